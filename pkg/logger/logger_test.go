package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When Init is called", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When an unknown format is requested", func() {
			err := InitWith(&bytes.Buffer{}, "xml")

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, FormatJSON), ShouldBeNil)
		SetLevel(0)
		defer func() { _ = Init() }()

		Convey("When a named logger writes a record with fields", func() {
			Named("relay").Info(context.Background(), "batch relayed",
				Int("count", 3),
				Uint64("seq", 42),
				Bool("connected", true),
				Duration("took", 1500*time.Millisecond),
				Error(errors.New("boom")))

			var rec map[string]any
			So(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), ShouldBeNil)

			Convey("Then the fields and component appear in the output", func() {
				So(rec["msg"], ShouldEqual, "batch relayed")
				So(rec["component"], ShouldEqual, "relay")
				So(rec["count"], ShouldEqual, 3.0)
				So(rec["seq"], ShouldEqual, 42.0)
				So(rec["connected"], ShouldEqual, true)
				So(rec["took"], ShouldEqual, "1.5s")
				So(rec["error"], ShouldEqual, "boom")
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given a text logger at warn level", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, FormatText), ShouldBeNil)
		defer func() {
			_ = SetLevelString("info")
			_ = Init()
		}()
		So(SetLevelString("WARN"), ShouldBeNil)

		Convey("When info and warn records are written", func() {
			Get().Info(context.Background(), "hidden")
			Get().Warn(context.Background(), "shown")

			Convey("Then only the warn record is emitted", func() {
				out := buf.String()
				So(strings.Contains(out, "hidden"), ShouldBeFalse)
				So(strings.Contains(out, "shown"), ShouldBeTrue)
			})
		})

		Convey("When an invalid level is set", func() {
			So(SetLevelString("loud"), ShouldNotBeNil)
		})
	})
}
