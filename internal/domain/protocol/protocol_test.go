package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/stablezoo/internal/domain/protocol"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDecodeClient(t *testing.T) {
	Convey("Given client frames", t, func() {
		Convey("When each known message type is decoded", func() {
			start, err1 := protocol.DecodeClient([]byte(`{"type":"StartSession","player_name":"Alice"}`))
			eaten, err2 := protocol.DecodeClient([]byte(`{"type":"AnimalEaten","animal_id":"a1","animal_value":50}`))
			numeric, err3 := protocol.DecodeClient([]byte(`{"type":"AnimalEaten","animal_id":17,"animal_value":-1}`))
			died, err4 := protocol.DecodeClient([]byte(`{"type":"PlayerDied"}`))
			board, err5 := protocol.DecodeClient([]byte(`{"type":"GetLeaderboard"}`))

			Convey("Then the matching variant is returned", func() {
				for _, err := range []error{err1, err2, err3, err4, err5} {
					So(err, ShouldBeNil)
				}
				So(start, ShouldResemble, protocol.StartSession{PlayerName: "Alice"})
				So(eaten, ShouldResemble, protocol.AnimalEaten{AnimalID: "a1", Value: 50})
				So(numeric, ShouldResemble, protocol.AnimalEaten{AnimalID: "17", Value: -1})
				So(died, ShouldResemble, protocol.PlayerDied{})
				So(board, ShouldResemble, protocol.GetLeaderboard{})
			})
		})

		Convey("When frames are invalid", func() {
			_, malformed := protocol.DecodeClient([]byte(`not json`))
			_, untyped := protocol.DecodeClient([]byte(`{"player_name":"x"}`))
			_, unknown := protocol.DecodeClient([]byte(`{"type":"Teleport"}`))
			_, noID := protocol.DecodeClient([]byte(`{"type":"AnimalEaten","animal_value":5}`))
			_, badValue := protocol.DecodeClient([]byte(`{"type":"AnimalEaten","animal_id":"a","animal_value":"lots"}`))

			Convey("Then each maps to a client-facing reason", func() {
				So(errors.Is(malformed, protocol.ErrMalformed), ShouldBeTrue)
				So(protocol.Reason(malformed), ShouldEqual, "malformed message")
				So(protocol.Reason(untyped), ShouldEqual, "malformed message")
				So(protocol.Reason(unknown), ShouldEqual, "unknown message type")
				So(protocol.Reason(noID), ShouldEqual, "invalid animal id")
				So(protocol.Reason(badValue), ShouldEqual, "Invalid animal value")
			})
		})
	})
}

func TestServerMessages(t *testing.T) {
	Convey("Given server messages", t, func() {
		Convey("When an empty leaderboard is encoded", func() {
			b, err := json.Marshal(protocol.NewLeaderboard(nil))

			Convey("Then entries is an empty array", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"type":"Leaderboard","entries":[]}`)
			})
		})

		Convey("When a ScoreUpdated is encoded", func() {
			b, _ := json.Marshal(protocol.NewScoreUpdated("Alice", 1, 50))

			Convey("Then it carries the type tag", func() {
				So(string(b), ShouldEqual, `{"type":"ScoreUpdated","player_name":"Alice","rank":1,"score":50}`)
			})
		})
	})
}
