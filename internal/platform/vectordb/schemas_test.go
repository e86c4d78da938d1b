package vectordb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterJSON(t *testing.T) {
	raw, err := json.Marshal(Equal("doc_id", "42"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"field_name":"doc_id","value":"42","operator":"equal"}`, string(raw))

	raw, err = json.Marshal(ContainsAny("space", "a", "b"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"field_name":"space","value":["a","b"],"operator":"contains_any"}`, string(raw))

	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"field_name":"doc_id","value":"7"}`), &f))
	assert.Equal(t, Equal("doc_id", "7"), f)

	require.NoError(t, json.Unmarshal([]byte(`{"field_name":"tag","value":["x"],"operator":"contains_any"}`), &f))
	assert.Equal(t, ContainsAny("tag", "x"), f)

	assert.Error(t, json.Unmarshal([]byte(`{"field_name":"tag","value":5}`), &f))
}

func TestQueryParamValidate(t *testing.T) {
	many := make([]string, 60)
	for i := range many {
		many[i] = "id"
	}
	alpha := 0.5
	badAlpha := 1.5

	tests := []struct {
		name    string
		param   QueryParam
		wantErr bool
	}{
		{
			name:  "valid",
			param: QueryParam{Query: "q", RetrievalConfig: DefaultRetrievalConfig()},
		},
		{
			name: "hybrid with alpha",
			param: QueryParam{Query: "q", RetrievalConfig: RetrievalConfig{
				Limit: 5, Alpha: &alpha, SearchMethod: SearchHybrid,
			}},
		},
		{
			name:    "missing query",
			param:   QueryParam{RetrievalConfig: DefaultRetrievalConfig()},
			wantErr: true,
		},
		{
			name:    "limit too large",
			param:   QueryParam{Query: "q", RetrievalConfig: RetrievalConfig{Limit: 100, SearchMethod: SearchSemantic}},
			wantErr: true,
		},
		{
			name:    "alpha out of range",
			param:   QueryParam{Query: "q", RetrievalConfig: RetrievalConfig{Limit: 5, Alpha: &badAlpha, SearchMethod: SearchHybrid}},
			wantErr: true,
		},
		{
			name:    "unknown search method",
			param:   QueryParam{Query: "q", RetrievalConfig: RetrievalConfig{Limit: 5, SearchMethod: "fuzzy"}},
			wantErr: true,
		},
		{
			name: "too many doc id filters",
			param: QueryParam{
				Query:           "q",
				Filters:         []Filter{ContainsAny("doc_id", many...), ContainsAny("doc_id", many...)},
				RetrievalConfig: DefaultRetrievalConfig(),
			},
			wantErr: true,
		},
		{
			name: "other fields are not counted",
			param: QueryParam{
				Query:           "q",
				Filters:         []Filter{ContainsAny("tag", many...), ContainsAny("doc_id", many...)},
				RetrievalConfig: DefaultRetrievalConfig(),
			},
		},
		{
			name: "bad operator",
			param: QueryParam{
				Query:           "q",
				Filters:         []Filter{{FieldName: "tag", Values: []string{"x"}, Operator: "like"}},
				RetrievalConfig: DefaultRetrievalConfig(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.param.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordProperties(t *testing.T) {
	r := Record{DocID: "1", Text: "hello", Extra: map[string]any{"space": "ops", "doc_id": "shadowed"}}
	props := r.Properties()
	assert.Equal(t, "1", props["doc_id"])
	assert.Equal(t, "hello", props["text"])
	assert.Equal(t, "ops", props["space"])
}

func TestCollectionJSON(t *testing.T) {
	raw, err := json.Marshal(Collection{Name: "kb", ExtraFields: []CollectionField{{DataType: "int", Name: "views"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"collection_name":"kb","extra_field_schemas":[{"data_type":"int","name":"views"}]}`, string(raw))
}

func TestHitScore(t *testing.T) {
	assert.Equal(t, 0.75, Hit{"score": 0.75}.Score())
	assert.Equal(t, 0.0, Hit{"score": "high"}.Score())
	assert.Equal(t, 0.0, Hit{}.Score())
	assert.Equal(t, "data duplication", StatusText(StatusDataDuplication))
	assert.Equal(t, "unknown", StatusText(1))
}
