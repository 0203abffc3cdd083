package salesforce

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFindLeadsByEmail_Batches(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	emails := make([]string, 150)
	for i := range emails {
		emails[i] = fmt.Sprintf("u%d@x.com", i)
	}
	emails[3] = "o'brien@x.com"

	var queries []string
	mc.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			queries = append(queries, args.String(1))
			out := args.Get(2).(*[]Lead)
			*out = []Lead{{ID: fmt.Sprintf("00Q%d", len(queries))}}
		}).Return(nil)

	leads, err := FindLeadsByEmail(ctx, mc, emails)
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	require.Len(t, queries, 2)
	assert.True(t, strings.HasPrefix(queries[0], "SELECT Id, FirstName"))
	assert.Contains(t, queries[0], `'o\'brien@x.com'`)
	assert.Contains(t, queries[1], "'u149@x.com'")
	assert.NotContains(t, queries[1], "'u99@x.com'")
}

func TestFindLeadsByEmail_SkipsBlank(t *testing.T) {
	mc := new(MockClient)
	leads, err := FindLeadsByEmail(context.Background(), mc, []string{"", "  "})
	require.NoError(t, err)
	assert.Empty(t, leads)
	mc.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindLeadsByEmail_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := FindLeadsByEmail(context.Background(), mc, []string{"a@x.com"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: find leads by email")
}

func TestInsertLeads_Batches(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	records := make([]map[string]any, 450)
	for i := range records {
		records[i] = map[string]any{"LastName": fmt.Sprintf("L%d", i), "Company": "C"}
	}

	var sizes []int
	mc.On("InsertCollection", ctx, "Lead", mock.Anything).
		Run(func(args mock.Arguments) {
			sizes = append(sizes, len(args.Get(2).([]map[string]any)))
		}).
		Return([]CollectionResult{{ID: "00Q", Success: true}}, nil)

	results, err := InsertLeads(ctx, mc, records)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 200, 50}, sizes)
	assert.Len(t, results, 3)
}

func TestInsertLeads_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("InsertCollection", mock.Anything, "Lead", mock.Anything).Return(nil, assert.AnError)

	_, err := InsertLeads(context.Background(), mc, []map[string]any{{"LastName": "A"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: insert leads batch 0-1")
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `o\'brien`, escapeSoql("o'brien"))
	assert.Equal(t, `a\\b`, escapeSoql(`a\b`))
}
