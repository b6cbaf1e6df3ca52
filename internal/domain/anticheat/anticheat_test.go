package anticheat_test

import (
	"testing"
	"time"

	"github.com/okian/stablezoo/internal/domain/anticheat"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValidate(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := anticheat.New()

	active := func() anticheat.Counters {
		return anticheat.Counters{
			Active:    true,
			Consumed:  map[string]struct{}{"a1": {}},
			Score:     50,
			StartedAt: start,
		}
	}

	Convey("Given the default validator", t, func() {
		Convey("When there is no active session", func() {
			verdict := v.Validate(anticheat.Counters{}, anticheat.Event{AnimalID: "a1", Value: -1, At: start})

			Convey("Then it is rejected without suspicion, before any other rule", func() {
				So(verdict.Accepted, ShouldBeFalse)
				So(verdict.Reason, ShouldEqual, anticheat.ReasonNoSession)
				So(verdict.Weight, ShouldEqual, 0)
			})
		})

		Convey("When the animal was already eaten", func() {
			verdict := v.Validate(active(), anticheat.Event{AnimalID: "a1", Value: 99999, At: start.Add(time.Second)})

			Convey("Then the duplicate rule wins over the value rule", func() {
				So(verdict.Reason, ShouldEqual, anticheat.ReasonDuplicate)
				So(verdict.Weight, ShouldEqual, 1)
			})
		})

		Convey("When the value is out of bounds", func() {
			for _, value := range []float64{-1, 10001} {
				verdict := v.Validate(active(), anticheat.Event{AnimalID: "a2", Value: value, At: start.Add(time.Second)})
				So(verdict.Reason, ShouldEqual, anticheat.ReasonInvalidValue)
				So(verdict.Weight, ShouldEqual, 1)
			}
		})

		Convey("When the bounds themselves are reported", func() {
			c := active()
			c.Score = 0
			So(v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 0, At: start.Add(time.Second)}).Accepted, ShouldBeTrue)
			So(v.Validate(c, anticheat.Event{AnimalID: "a3", Value: 10000, At: start.Add(time.Second)}).Accepted, ShouldBeTrue)
		})

		Convey("When events arrive closer than 200ms", func() {
			c := active()
			c.LastAcceptedAt = start.Add(time.Second)

			tooSoon := v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 1, At: start.Add(time.Second + 199*time.Millisecond)})
			onTime := v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 1, At: start.Add(time.Second + 200*time.Millisecond)})

			Convey("Then only the early one is rejected", func() {
				So(tooSoon.Reason, ShouldEqual, anticheat.ReasonTooFast)
				So(tooSoon.Weight, ShouldEqual, 1)
				So(onTime.Accepted, ShouldBeTrue)
			})
		})

		Convey("When the first event arrives right after the session started", func() {
			c := active()
			c.Score = 0
			verdict := v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 10, At: start.Add(time.Millisecond)})

			Convey("Then no rate clock applies yet", func() {
				So(verdict.Accepted, ShouldBeTrue)
			})
		})

		Convey("When the score rate is implausible", func() {
			c := active()
			c.Score = 2500
			early := v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 1, At: start.Add(30 * time.Second)})
			c.Score = 2000
			later := v.Validate(c, anticheat.Event{AnimalID: "a2", Value: 1, At: start.Add(2 * time.Minute)})

			Convey("Then it is rejected, using at least one minute as the divisor", func() {
				So(early.Reason, ShouldEqual, anticheat.ReasonScoreTooHigh)
				So(early.Weight, ShouldEqual, 1)
				So(later.Accepted, ShouldBeTrue)
			})
		})
	})

	Convey("Given a validator with custom thresholds", t, func() {
		custom := anticheat.New(
			anticheat.WithMinInterval(time.Second),
			anticheat.WithMaxValue(10),
			anticheat.WithMaxScorePerMinute(5),
			anticheat.WithRateWindowFloor(time.Second),
		)
		c := anticheat.Counters{Active: true, StartedAt: start, LastAcceptedAt: start, Score: 6}

		So(custom.Validate(c, anticheat.Event{AnimalID: "x", Value: 11, At: start.Add(2 * time.Second)}).Reason,
			ShouldEqual, anticheat.ReasonInvalidValue)
		So(custom.Validate(c, anticheat.Event{AnimalID: "x", Value: 1, At: start.Add(500 * time.Millisecond)}).Reason,
			ShouldEqual, anticheat.ReasonTooFast)
		So(custom.Validate(c, anticheat.Event{AnimalID: "x", Value: 1, At: start.Add(time.Minute)}).Reason,
			ShouldEqual, anticheat.ReasonScoreTooHigh)
		So(custom.Validate(c, anticheat.Event{AnimalID: "x", Value: 1, At: start.Add(2 * time.Minute)}).Accepted,
			ShouldBeTrue)
	})
}
