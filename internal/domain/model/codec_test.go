package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	model "github.com/okian/stablezoo/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

const validRecord = `{"stablecoin":"usdc","amount":"1500.250000","from":"0x1111111111111111111111111111111111111111",` +
	`"to":"0x2222222222222222222222222222222222222222","block_number":19000001,"tx_hash":"0xdeadbeef"}`

func TestDecodeStreamEvent(t *testing.T) {
	convey.Convey("Given an upstream record", t, func() {
		convey.Convey("When the record is valid", func() {
			ev, err := model.DecodeStreamEvent([]byte(validRecord), 42)

			convey.Convey("Then every field is parsed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.Stablecoin, convey.ShouldEqual, "USDC")
				convey.So(ev.AmountString(), convey.ShouldEqual, "1500.250000")
				convey.So(ev.BlockNumber, convey.ShouldEqual, uint64(19000001))
				convey.So(ev.TxHash, convey.ShouldEqual, "0xdeadbeef")
				convey.So(ev.Sequence, convey.ShouldEqual, uint64(42))
				convey.So(ev.Key(), convey.ShouldEqual, "42/0xdeadbeef")
			})

			convey.Convey("And it is encoded for broadcast", func() {
				out, err := json.Marshal(ev)
				convey.So(err, convey.ShouldBeNil)

				var m map[string]any
				convey.So(json.Unmarshal(out, &m), convey.ShouldBeNil)

				convey.Convey("Then the six record fields appear without a type", func() {
					convey.So(m, convey.ShouldHaveLength, 6)
					convey.So(m["amount"], convey.ShouldEqual, "1500.250000")
					convey.So(m["block_number"], convey.ShouldEqual, 19000001.0)
					convey.So(m["stablecoin"], convey.ShouldEqual, "USDC")
					_, hasType := m["type"]
					convey.So(hasType, convey.ShouldBeFalse)
				})
			})
		})

		convey.Convey("When numeric fields use the other JSON representation", func() {
			ev, err := model.DecodeStreamEvent([]byte(`{"stablecoin":"DAI","amount":12.5,"from":"a","to":"b",`+
				`"block_number":"77","tx_hash":"t"}`), 1)

			convey.So(err, convey.ShouldBeNil)
			convey.So(ev.AmountString(), convey.ShouldEqual, "12.5")
			convey.So(ev.BlockNumber, convey.ShouldEqual, uint64(77))
		})

		cases := map[string]string{
			"not json":         `{"stablecoin":`,
			"missing symbol":   `{"amount":"1","from":"a","to":"b","block_number":1,"tx_hash":"t"}`,
			"bad symbol":       `{"stablecoin":"US-DC","amount":"1","from":"a","to":"b","block_number":1,"tx_hash":"t"}`,
			"bad amount":       `{"stablecoin":"USDC","amount":"lots","from":"a","to":"b","block_number":1,"tx_hash":"t"}`,
			"negative amount":  `{"stablecoin":"USDC","amount":"-1","from":"a","to":"b","block_number":1,"tx_hash":"t"}`,
			"missing from":     `{"stablecoin":"USDC","amount":"1","to":"b","block_number":1,"tx_hash":"t"}`,
			"missing to":       `{"stablecoin":"USDC","amount":"1","from":"a","block_number":1,"tx_hash":"t"}`,
			"bad block number": `{"stablecoin":"USDC","amount":"1","from":"a","to":"b","block_number":-3,"tx_hash":"t"}`,
			"missing tx hash":  `{"stablecoin":"USDC","amount":"1","from":"a","to":"b","block_number":1}`,
		}
		for name, payload := range cases {
			convey.Convey("When the record has "+name, func() {
				_, err := model.DecodeStreamEvent([]byte(payload), 1)

				convey.Convey("Then it is rejected as malformed", func() {
					convey.So(errors.Is(err, model.ErrMalformedEvent), convey.ShouldBeTrue)
				})
			})
		}
	})
}

func TestStreamEventDisplay(t *testing.T) {
	convey.Convey("Given a decoded event", t, func() {
		ev, err := model.DecodeStreamEvent([]byte(validRecord), 1)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When rendered for logs", func() {
			s := ev.Display(10)

			convey.Convey("Then addresses are truncated", func() {
				convey.So(s, convey.ShouldContainSubstring, "0x11111111...")
				convey.So(s, convey.ShouldContainSubstring, "0x22222222...")
				convey.So(s, convey.ShouldContainSubstring, "USDC")
			})
		})
	})
}
