package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_cadence_engine/internal/domain/cadence"
)

func immediately() cadence.ScheduleRule {
	return cadence.ScheduleRule{Kind: cadence.RuleImmediately}
}

func atTime(clock string) cadence.ScheduleRule {
	return cadence.ScheduleRule{Kind: cadence.RuleTimeOfDay, TimeOfDay: clock}
}

func afterPrevious(minutes int) cadence.ScheduleRule {
	return cadence.ScheduleRule{Kind: cadence.RuleAfterPrevious, MinutesAfterPrevious: minutes}
}

func compilerDef(tz string, days ...cadence.Day) *cadence.Definition {
	return &cadence.Definition{ID: 1, Name: "test cadence", Timezone: tz, Days: days}
}

func day(number int, actions ...cadence.Action) cadence.Day {
	return cadence.Day{Number: number, Actions: actions}
}

func action(id string, rule cadence.ScheduleRule) cadence.Action {
	return cadence.Action{ID: id, Type: cadence.ActionEmail, Schedule: rule}
}

func mustCompile(t *testing.T, def *cadence.Definition, enrolledAt time.Time) []CompiledAction {
	t.Helper()
	schedule, err := CompileSchedule(def, enrolledAt, "")
	require.NoError(t, err)
	return schedule
}

func TestCompileImmediatelyUsesCursor(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	def := compilerDef("UTC", day(1, action("a1", immediately())))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(enrolled))
}

func TestCompileTimeOfDayRollsToNextDayWhenPassed(t *testing.T) {
	// Enrolled at 20:00 UTC; 09:00 already passed, so roll to the next date.
	enrolled := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	def := compilerDef("UTC", day(1, action("a1", atTime("09:00"))))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)))
}

func TestCompileTimeOfDayLaterSameDay(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	def := compilerDef("UTC", day(1, action("a1", atTime("09:00"))))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
}

func TestCompileTimeOfDayInCadenceTimezone(t *testing.T) {
	// 13:00 UTC is 08:00 in New York, so 09:00 New York is still ahead.
	enrolled := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	def := compilerDef("America/New_York", day(1, action("a1", atTime("09:00"))))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)))
}

func TestCompileAfterPreviousAddsMinutes(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	def := compilerDef("UTC", day(1,
		action("a1", atTime("09:00")),
		action("a2", afterPrevious(30)),
	))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 2)
	assert.True(t, schedule[1].DueAt.Equal(schedule[0].DueAt.Add(30*time.Minute)))
}

func TestCompileAfterPreviousWithoutPredecessorIsImmediate(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	def := compilerDef("UTC", day(1, action("a1", afterPrevious(45))))

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(enrolled))
}

func TestCompileAfterPreviousSpansDayBoundary(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	def := compilerDef("UTC",
		day(1, action("a1", atTime("09:00"))),
		day(2, action("a2", afterPrevious(60))),
	)

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 2)
	// Previous action is the last action of the prior day.
	assert.True(t, schedule[1].DueAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestCompileBusinessHoursShiftWeekend(t *testing.T) {
	// Saturday 10:00 shifts to Monday at window start.
	enrolled := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC) // Saturday
	def := compilerDef("UTC", day(1, action("a1", immediately())))
	def.BusinessHours = cadence.BusinessHours{
		Enabled:  true,
		Start:    "09:00",
		End:      "18:00",
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
}

func TestCompileBusinessHoursShiftBeforeOpen(t *testing.T) {
	enrolled := time.Date(2024, 1, 3, 6, 30, 0, 0, time.UTC) // Wednesday
	def := compilerDef("UTC", day(1, action("a1", immediately())))
	def.BusinessHours = cadence.BusinessHours{
		Enabled:  true,
		Start:    "09:00",
		End:      "18:00",
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)))
}

func TestCompileBusinessHoursNeverShiftBackward(t *testing.T) {
	// Friday 17:50 + 30m lands past closing; shift goes forward to Monday,
	// never back inside Friday's window.
	enrolled := time.Date(2024, 1, 5, 17, 50, 0, 0, time.UTC) // Friday
	def := compilerDef("UTC", day(1,
		action("a1", immediately()),
		action("a2", afterPrevious(30)),
	))
	def.BusinessHours = cadence.BusinessHours{
		Enabled:  true,
		Start:    "09:00",
		End:      "18:00",
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 2)
	assert.True(t, schedule[0].DueAt.Equal(enrolled))
	assert.True(t, schedule[1].DueAt.Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
}

func TestCompileDueAtNonDecreasing(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	def := compilerDef("UTC",
		day(1,
			action("a1", immediately()),
			action("a2", immediately()),
			action("a3", afterPrevious(15)),
		),
		day(2,
			action("b1", atTime("09:00")),
			action("b2", afterPrevious(120)),
		),
		day(3, action("c1", atTime("07:30"))),
	)

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 6)
	for i := 1; i < len(schedule); i++ {
		assert.False(t, schedule[i].DueAt.Before(schedule[i-1].DueAt),
			"dueAt decreased between %s and %s", schedule[i-1].ActionID, schedule[i].ActionID)
	}
}

func TestCompileEmptyDayKeepsCursorContinuity(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	def := compilerDef("UTC",
		day(1, action("a1", atTime("09:00"))),
		day(2),
		day(3, action("c1", afterPrevious(30))),
	)

	schedule := mustCompile(t, def, enrolled)

	require.Len(t, schedule, 2)
	assert.True(t, schedule[1].DueAt.Equal(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)))
}

func TestCompileZeroActionsYieldsEmptySchedule(t *testing.T) {
	def := compilerDef("UTC")

	schedule := mustCompile(t, def, time.Now())

	assert.Empty(t, schedule)
}

func TestCompileFallsBackToLeadTimezone(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	def := compilerDef("", day(1, action("a1", atTime("09:00"))))

	schedule, err := CompileSchedule(def, enrolled, "America/New_York")
	require.NoError(t, err)

	require.Len(t, schedule, 1)
	assert.True(t, schedule[0].DueAt.Equal(time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)))
}

func TestCompileInvalidDefinitions(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		def  *cadence.Definition
	}{
		{"unknown timezone", compilerDef("Mars/Olympus", day(1, action("a1", immediately())))},
		{"non-dense day numbers", compilerDef("UTC", day(1, action("a1", immediately())), cadence.Day{Number: 3})},
		{"duplicate action ids", compilerDef("UTC", day(1, action("a1", immediately()), action("a1", immediately())))},
		{"unknown rule kind", compilerDef("UTC", day(1, action("a1", cadence.ScheduleRule{Kind: "fortnightly"})))},
		{"malformed time of day", compilerDef("UTC", day(1, action("a1", atTime("25:99"))))},
		{"negative minutes", compilerDef("UTC", day(1, action("a1", immediately()), action("a2", afterPrevious(-5))))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileSchedule(tc.def, enrolled, "")
			var invalid *InvalidScheduleError
			require.ErrorAs(t, err, &invalid)
		})
	}

	t.Run("business hours without weekdays", func(t *testing.T) {
		def := compilerDef("UTC", day(1, action("a1", immediately())))
		def.BusinessHours = cadence.BusinessHours{Enabled: true, Start: "09:00", End: "18:00"}
		_, err := CompileSchedule(def, enrolled, "")
		var invalid *InvalidScheduleError
		require.ErrorAs(t, err, &invalid)
	})
}
