package persist

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/notion"
)

func existingPage(name, email string) notionapi.Page {
	props := notionapi.Properties{propName: notion.Title(name)}
	if email != "" {
		props[propEmail] = notion.Email(email)
	}
	return notionapi.Page{Properties: props}
}

func TestNotion_CreatesOnlyNewLeads(t *testing.T) {
	mc := &mockNotion{}
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{existingPage("Ada", "ada@engine.io")},
	}, nil)

	var created []*notionapi.PageCreateRequest
	mc.On("CreatePage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { created = append(created, args.Get(1).(*notionapi.PageCreateRequest)) }).
		Return(&notionapi.Page{ID: "p"}, nil)

	res, err := NewNotion(mc, "db-1").Persist(context.Background(), []model.Contact{
		{Name: "Ada", Email: "ada@engine.io"},
		{Name: "Linus", Email: "linus@kernel.org", Website: "https://kernel.org", Industry: "Software", Enrichment: "note"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PersistResult{Success: true, ID: "db-1", Added: 1, Skipped: 1}, res)

	require.Len(t, created, 1)
	req := created[0]
	assert.Equal(t, notionapi.DatabaseID("db-1"), req.Parent.DatabaseID)
	assert.Equal(t, "Linus", notion.PlainText(req.Properties, propName))
	assert.Equal(t, "linus@kernel.org", notion.PlainText(req.Properties, propEmail))
	assert.Equal(t, "https://kernel.org", notion.PlainText(req.Properties, propWebsite))
	assert.Equal(t, "Software", notion.PlainText(req.Properties, propIndustry))
	assert.Equal(t, "note", notion.PlainText(req.Properties, propNotes))
	assert.Equal(t, "new", notion.PlainText(req.Properties, propStatus))
	_, hasLinkedIn := req.Properties[propLinkedIn]
	assert.False(t, hasLinkedIn, "empty url properties are omitted")
}

func TestNotion_QueryError(t *testing.T) {
	mc := &mockNotion{}
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(nil, assert.AnError)

	_, err := NewNotion(mc, "db-1").Persist(context.Background(), []model.Contact{{Name: "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load existing leads")
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestNotion_CreateErrorReportsPartial(t *testing.T) {
	mc := &mockNotion{}
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(&notionapi.Page{}, nil).Once()
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	res, err := NewNotion(mc, "db-1").Persist(context.Background(), []model.Contact{
		{Name: "A", Email: "a@x.com"},
		{Name: "B", Email: "b@x.com"},
		{Name: "C", Email: "c@x.com"},
	})
	require.Error(t, err)
	assert.Equal(t, 1, res.Added)
	assert.False(t, res.Success)
	mc.AssertNumberOfCalls(t, "CreatePage", 2)
}
