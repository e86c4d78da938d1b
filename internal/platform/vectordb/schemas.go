package vectordb

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Record types accepted by the document endpoints.
const (
	TypeText     = "text"
	TypeTextJSON = "text_json"
	TypeTextHTML = "text_html"
)

// Filter operators.
const (
	OperatorEqual       = "equal"
	OperatorContainsAny = "contains_any"
)

// Search methods.
const (
	SearchSemantic = "semantic_search"
	SearchFullText = "full_text_search"
	SearchHybrid   = "hybrid_search"
)

// maxDocIDFilters bounds how many doc ids one query may filter on.
const maxDocIDFilters = 100

var validate = validator.New()

// CollectionField declares an extra field of a collection.
type CollectionField struct {
	DataType string `json:"data_type" validate:"required,oneof=text keyword int bool"`
	Name     string `json:"name" validate:"required"`
}

// Collection describes a collection to create.
type Collection struct {
	Name        string            `json:"collection_name" validate:"required"`
	ExtraFields []CollectionField `json:"extra_field_schemas" validate:"dive"`
}

// Record is one document. Extra holds the collection's extra fields.
type Record struct {
	DocID string         `validate:"required"`
	Text  string         `validate:"required"`
	Extra map[string]any `validate:"-"`
}

// Properties returns the record as sent to the store.
func (r Record) Properties() map[string]any {
	props := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		props[k] = v
	}
	props["doc_id"] = r.DocID
	props["text"] = r.Text
	return props
}

// Filter restricts a query or a delete to matching documents.
type Filter struct {
	FieldName string   `validate:"required"`
	Values    []string `validate:"min=1,max=99"`
	Operator  string   `validate:"oneof=equal contains_any"`
}

// Equal matches documents whose field equals value.
func Equal(field, value string) Filter {
	return Filter{FieldName: field, Values: []string{value}, Operator: OperatorEqual}
}

// ContainsAny matches documents whose field is any of values.
func ContainsAny(field string, values ...string) Filter {
	return Filter{FieldName: field, Values: values, Operator: OperatorContainsAny}
}

type filterJSON struct {
	FieldName string          `json:"field_name"`
	Value     json.RawMessage `json:"value"`
	Operator  string          `json:"operator"`
}

// MarshalJSON writes an equal filter's value as a string and a contains_any
// filter's value as a list.
func (f Filter) MarshalJSON() ([]byte, error) {
	var value any = f.Values
	if f.Operator == OperatorEqual && len(f.Values) == 1 {
		value = f.Values[0]
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(filterJSON{FieldName: f.FieldName, Value: raw, Operator: f.Operator})
}

// UnmarshalJSON accepts a value that is either a string or a list.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var aux filterJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.FieldName = aux.FieldName
	f.Operator = aux.Operator
	if f.Operator == "" {
		f.Operator = OperatorEqual
	}

	var single string
	if err := json.Unmarshal(aux.Value, &single); err == nil {
		f.Values = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(aux.Value, &many); err != nil {
		return fmt.Errorf("filter value must be a string or a list of strings: %w", err)
	}
	f.Values = many
	return nil
}

func (f Filter) docIDCount() int {
	if f.FieldName != "doc_id" {
		return 0
	}
	if f.Operator == OperatorContainsAny {
		return len(f.Values)
	}
	return 1
}

// RetrievalConfig tunes a search.
type RetrievalConfig struct {
	Limit        int      `json:"limit" validate:"gte=1,lt=100"`
	Offset       *float64 `json:"offset,omitempty"`
	Alpha        *float64 `json:"alpha,omitempty" validate:"omitempty,gt=0,lte=1"`
	Distance     *float64 `json:"distance,omitempty"`
	SearchMethod string   `json:"search_method" validate:"oneof=semantic_search full_text_search hybrid_search"`
}

// DefaultRetrievalConfig returns a semantic search for ten hits.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{Limit: 10, SearchMethod: SearchSemantic}
}

// QueryParam is a search request.
type QueryParam struct {
	Query           string          `json:"query" validate:"required"`
	Filters         []Filter        `json:"filters" validate:"dive"`
	RetrievalConfig RetrievalConfig `json:"retrieval_config"`
}

// Validate checks field constraints and the total number of doc id filters.
func (q QueryParam) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	count := 0
	for _, f := range q.Filters {
		count += f.docIDCount()
	}
	if count > maxDocIDFilters {
		return fmt.Errorf("%w: doc_id filters must be <= %d, got %d", ErrInvalidInput, maxDocIDFilters, count)
	}
	return nil
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Hit is one search result as returned by the store.
type Hit map[string]any

// Score returns the hit's relevance score, or zero when absent.
func (h Hit) Score() float64 {
	switch v := h["score"].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
