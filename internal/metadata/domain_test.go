package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClassifyDate(t *testing.T) {
	tests := []struct {
		date time.Time
		want DateType
	}{
		{date(2024, time.January, 5), DateTypeEOD},
		{date(2024, time.January, 31), DateTypeEOM},
		{date(2024, time.February, 29), DateTypeEOM}, // leap year
		{date(2023, time.February, 28), DateTypeEOM},
		{date(2024, time.March, 31), DateTypeEOQ},
		{date(2024, time.June, 30), DateTypeEOQ},
		{date(2024, time.September, 30), DateTypeEOQ},
		{date(2024, time.December, 31), DateTypeEOY},
		{date(2024, time.December, 30), DateTypeEOD},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyDate(tt.date), "date %s", tt.date.Format("2006-01-02"))
	}
}

func TestDayNumber(t *testing.T) {
	a := DayNumber(time.Date(2024, time.January, 5, 23, 59, 0, 0, time.UTC))
	b := DayNumber(time.Date(2024, time.January, 6, 0, 1, 0, 0, time.UTC))
	assert.Equal(t, 1, b-a)

	// Time of day never shifts the day number.
	assert.Equal(t,
		DayNumber(time.Date(2024, time.January, 5, 0, 0, 1, 0, time.UTC)),
		DayNumber(time.Date(2024, time.January, 5, 23, 59, 59, 0, time.UTC)))
}

func intPtr(v int) *int { return &v }

func TestPolicyThresholds(t *testing.T) {
	p := &LifecyclePolicy{
		EODCoolDays:        intPtr(30),
		EODArchiveDays:     intPtr(180),
		EODDeleteDays:      intPtr(365),
		EOYDeleteDays:      intPtr(3650),
		ExternalCoolDays:   intPtr(7),
		ExternalDeleteDays: intPtr(90),
	}

	cool, archive, del := p.Thresholds(DateTypeEOD)
	assert.Equal(t, 30, *cool)
	assert.Equal(t, 180, *archive)
	assert.Equal(t, 365, *del)

	cool, archive, del = p.Thresholds(DateTypeEOY)
	assert.Nil(t, cool)
	assert.Nil(t, archive)
	assert.Equal(t, 3650, *del)

	cool, archive, del = p.Thresholds(DateTypeEOM)
	assert.Nil(t, cool)
	assert.Nil(t, archive)
	assert.Nil(t, del)

	// Unknown date types resolve to the External triple.
	cool, _, del = p.Thresholds(DateType("bogus"))
	assert.Equal(t, 7, *cool)
	assert.Equal(t, 90, *del)
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "acct", Scope{Account: "acct"}.String())
	assert.Equal(t, "acct/archive", Scope{Account: "acct", Container: "archive"}.String())
}

func TestQualifiedName(t *testing.T) {
	c := &TableConfiguration{SchemaName: "dbo", TableName: "trades"}
	assert.Equal(t, "dbo.trades", c.QualifiedName())
	c.SchemaName = ""
	assert.Equal(t, "trades", c.QualifiedName())
}
