package chunk

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/internal/model"
)

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	args := m.Called(ctx, contacts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}
