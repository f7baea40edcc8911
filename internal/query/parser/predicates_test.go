package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h0rn3t/timescaledb/internal/query/qual"
)

func mustQuals(t *testing.T, sql string) []qual.Qual {
	t.Helper()
	stmt, err := Parse(sql)
	require.NoError(t, err)
	return ExtractQuals(stmt)
}

func TestExtractQuals_Comparisons(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE time >= '2024-01-01'::timestamptz AND 100 > value AND device <> 'x'")
	require.Len(t, quals, 3)

	assert.Equal(t, qual.KindCompare, quals[0].Kind)
	assert.Equal(t, qual.ColumnRef{Relation: "m", Column: "time"}, quals[0].Column)
	assert.Equal(t, qual.OpGe, quals[0].Op)
	assert.Equal(t, "2024-01-01", quals[0].Value)

	assert.Equal(t, "value", quals[1].Column.Column)
	assert.Equal(t, qual.OpLt, quals[1].Op, "reversed comparison is commuted")
	assert.Equal(t, int64(100), quals[1].Value)

	assert.Equal(t, qual.OpNe, quals[2].Op)
	assert.Equal(t, "(device <> 'x')", quals[2].Text)
}

func TestExtractQuals_StableValues(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE time > now() - interval AND time < $1 AND device = lower(name)")
	require.Len(t, quals, 3)

	assert.Equal(t, qual.KindOpaque, quals[0].Kind, "interval is read as a column reference")
	assert.True(t, quals[1].Stable)
	assert.Equal(t, qual.KindCompare, quals[1].Kind)
	assert.Equal(t, qual.KindOpaque, quals[2].Kind)

	quals = mustQuals(t, "SELECT * FROM m WHERE time > now()")
	require.Len(t, quals, 1)
	assert.True(t, quals[0].Stable)
}

func TestExtractQuals_ConstantFolding(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE time >= 10 * 60 AND time < -(5) + 1000 AND value > 1.5 / 2")
	require.Len(t, quals, 3)
	assert.Equal(t, int64(600), quals[0].Value)
	assert.Equal(t, int64(995), quals[1].Value)
	assert.InDelta(t, 0.75, quals[2].Value, 1e-9)
}

func TestExtractQuals_ConstantFoldingOverflow(t *testing.T) {
	tests := []string{
		"SELECT * FROM m WHERE time < 9223372036854775807 + 1",
		"SELECT * FROM m WHERE time < 4611686018427387904 * 4",
		"SELECT * FROM m WHERE time > -9223372036854775807 - 2",
		"SELECT * FROM m WHERE time > -(-9223372036854775807 - 1)",
		"SELECT * FROM m WHERE time > (-9223372036854775807 - 1) / -1",
	}
	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			quals := mustQuals(t, sql)
			require.Len(t, quals, 1)
			assert.Equal(t, qual.KindOpaque, quals[0].Kind)
			_, ok := qual.KeyRange(quals[0], qual.Target{Relation: "m", Key: "time"})
			assert.False(t, ok)
		})
	}

	quals := mustQuals(t, "SELECT * FROM m WHERE time < 9223372036854775806 + 1 AND time > -9223372036854775807 - 1")
	require.Len(t, quals, 2)
	assert.Equal(t, int64(9223372036854775807), quals[0].Value)
	assert.Equal(t, int64(-9223372036854775808), quals[1].Value)
}

func TestExtractQuals_BetweenAndIn(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE time BETWEEN 10 AND 20 AND device IN (1, 2) AND id IN (7)")
	require.Len(t, quals, 4)

	assert.Equal(t, qual.OpGe, quals[0].Op)
	assert.Equal(t, qual.OpLe, quals[1].Op)

	assert.Equal(t, qual.KindOr, quals[2].Kind)
	assert.Len(t, quals[2].Disjuncts, 2)

	assert.Equal(t, qual.KindCompare, quals[3].Kind)
	assert.Equal(t, qual.OpEq, quals[3].Op)

	quals = mustQuals(t, "SELECT * FROM m WHERE time NOT BETWEEN 10 AND 20")
	require.Len(t, quals, 1)
	r, ok := qual.KeyRange(quals[0], qual.Target{Relation: "m", Key: "time"})
	require.True(t, ok)
	assert.Equal(t, qual.Range(qual.MinKey, 10).Union(qual.Range(21, qual.MaxKey)), r)
}

func TestExtractQuals_OrGroups(t *testing.T) {
	quals := mustQuals(t, `SELECT * FROM m WHERE
		(device = 1 AND time >= 0 AND time < 10) OR (device = 2 AND time >= 50 AND time < 60)`)
	require.Len(t, quals, 1)
	require.Equal(t, qual.KindOr, quals[0].Kind)
	require.Len(t, quals[0].Disjuncts, 2)
	assert.Len(t, quals[0].Disjuncts[0], 3)

	r, ok := qual.KeyRange(quals[0], qual.Target{Relation: "m", Key: "time"})
	require.True(t, ok)
	assert.Equal(t, qual.Range(0, 10).Union(qual.Range(50, 60)), r)
}

func TestExtractQuals_OpaqueForms(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE name LIKE 'a%' AND note IS NULL AND tag IS NOT NULL AND device NOT IN (1, 2) AND date_trunc('day', time) = '2024-01-01'")
	require.Len(t, quals, 5)

	assert.Equal(t, qual.FormLike, quals[0].Form)
	assert.Equal(t, "name", quals[0].Column.Column)
	assert.Equal(t, qual.FormIsNull, quals[1].Form)
	assert.Equal(t, qual.FormIsNotNull, quals[2].Form)
	assert.Equal(t, qual.FormNotIn, quals[3].Form)

	assert.Equal(t, qual.KindOpaque, quals[4].Kind)
	assert.Equal(t, []string{"m"}, quals[4].Relations)
}

func TestExtractQuals_Not(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m WHERE NOT (time < 100)")
	require.Len(t, quals, 1)
	assert.Equal(t, qual.KindCompare, quals[0].Kind)
	assert.Equal(t, qual.OpGe, quals[0].Op)
	assert.Equal(t, "NOT ((time < 100))", quals[0].Text)
}

func TestExtractQuals_JoinShapes(t *testing.T) {
	quals := mustQuals(t, `SELECT s.sensor_id, avg(s.value) FROM bench.sensor_data s
		JOIN bench.active_periods p ON s.sensor_id = p.sensor_id
			AND s.measurement_time >= p.start_time AND s.measurement_time < p.end_time
		WHERE p.start_time >= '2024-01-01' AND s.value > 10`)
	require.Len(t, quals, 5)

	for i := 0; i < 3; i++ {
		assert.Equal(t, qual.KindJoin, quals[i].Kind, "qual %d", i)
		assert.Equal(t, []string{"p", "s"}, quals[i].Relations)
	}
	assert.Equal(t, qual.ColumnRef{Relation: "p", Column: "end_time"}, quals[2].Other)

	assert.True(t, quals[3].OnlyReferences("p"))
	assert.True(t, quals[4].OnlyReferences("s"))
}

func TestExtractQuals_BetweenWithColumnBounds(t *testing.T) {
	quals := mustQuals(t, "SELECT * FROM m, p WHERE m.time BETWEEN p.start_time AND p.end_time")
	require.Len(t, quals, 2)
	assert.Equal(t, qual.KindJoin, quals[0].Kind)
	assert.Equal(t, qual.OpGe, quals[0].Op)
	assert.Equal(t, qual.KindJoin, quals[1].Kind)
	assert.Equal(t, qual.OpLe, quals[1].Op)
}

func TestExtractQuals_Qualifiers(t *testing.T) {
	// Unqualified columns of a multi-table query are left for the planner.
	quals := mustQuals(t, "SELECT * FROM metrics JOIN devices d ON metrics.device_id = d.id WHERE time > 5")
	require.Len(t, quals, 2)
	assert.Equal(t, []string{"d", "metrics"}, quals[0].Relations)
	assert.Equal(t, "", quals[1].Column.Relation)

	quals = mustQuals(t, "DELETE FROM bench.sensor_data WHERE sensor_data.time < 5")
	require.Len(t, quals, 1)
	assert.Equal(t, "bench.sensor_data", quals[0].Column.Relation)

	quals = mustQuals(t, "EXPLAIN UPDATE m SET v = 1 WHERE time < 5")
	require.Len(t, quals, 1)
	assert.Equal(t, "m", quals[0].Column.Relation)
}
