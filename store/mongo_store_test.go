package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMongoToAssignment(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &mongoAssignment{
		ID:            "a-1",
		Experiment:    "checkout-button",
		ParticipantID: "user-42",
		Variant:       "treatment",
		Context:       map[string]string{"country": "DE"},
		CreatedAt:     created,
	}

	a := mongoToAssignment(doc)
	assert.Equal(t, "a-1", a.ID)
	assert.Equal(t, "checkout-button", a.Experiment)
	assert.Equal(t, "user-42", a.ParticipantID)
	assert.Equal(t, "treatment", a.Variant)
	assert.Equal(t, "DE", a.Context["country"])
	assert.Equal(t, created, a.CreatedAt)

	// 无上下文时保持 nil，不要造空 map
	bare := mongoToAssignment(&mongoAssignment{ID: "a-2"})
	assert.Nil(t, bare.Context)
}

func TestMongoAssignmentFieldNames(t *testing.T) {
	// 索引键 (experiment, participant_id) 必须与文档字段名一致
	raw, err := bson.Marshal(mongoAssignment{ID: "a-1", Experiment: "x", ParticipantID: "p"})
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "a-1", m["_id"])
	assert.Contains(t, m, "experiment")
	assert.Contains(t, m, "participant_id")
	assert.NotContains(t, m, "context", "empty context must be omitted")
}

func TestMongoCounterDecode(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"experiment":  "checkout-button",
		"variant":     "control",
		"assignments": int64(120),
		"goals":       bson.M{"purchase": int64(30), "signup": int64(7)},
	})
	require.NoError(t, err)

	var doc mongoCounter
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "control", doc.Variant)
	assert.Equal(t, int64(120), doc.Assignments)
	assert.Equal(t, int64(30), doc.Goals["purchase"])
	assert.Equal(t, int64(7), doc.Goals["signup"])

	// 只有 assignments 的文档（尚无转化）也要能解码
	raw, err = bson.Marshal(bson.M{"experiment": "x", "variant": "v", "assignments": int64(1)})
	require.NoError(t, err)
	doc = mongoCounter{}
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Nil(t, doc.Goals)
}
