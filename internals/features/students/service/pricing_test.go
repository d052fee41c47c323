package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuitionpay_backend/internals/databases/dbtest"
	"tuitionpay_backend/internals/features/students/model"
)

func TestEffectiveMonthlyRate(t *testing.T) {
	p := Pricing{BaseCents: 15000, DiscountCents: 1000}
	custom := int64(9900)
	zero := int64(0)

	tests := []struct {
		name     string
		rank     int
		override *int64
		want     int64
	}{
		{"first sibling pays base", 0, nil, 15000},
		{"second sibling discounted", 1, nil, 14000},
		{"third sibling discounted", 2, nil, 14000},
		{"explicit rate wins", 1, &custom, 9900},
		{"zero override ignored", 0, &zero, 15000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.EffectiveMonthlyRate(tt.rank, tt.override))
		})
	}

	assert.Equal(t, int64(0), Pricing{BaseCents: 500, DiscountCents: 1000}.EffectiveMonthlyRate(1, nil))
}

func TestRates_RankAcrossWholeGroup(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	st := seedStudents(t, db, "Eldest", "Middle", "Youngest")
	_, err := NewSiblingService(db).CreateGroup(ctx, nil, []uuid.UUID{st[0].StudentID, st[1].StudentID, st[2].StudentID})
	require.NoError(t, err)

	var youngest model.StudentModel
	require.NoError(t, db.First(&youngest, "student_id = ?", st[2].StudentID).Error)

	// only the youngest is priced, but the eldest still holds rank 0
	rates, err := Pricing{BaseCents: 15000, DiscountCents: 1000}.Rates(ctx, db, []model.StudentModel{youngest})
	require.NoError(t, err)
	assert.Equal(t, int64(14000), rates[youngest.StudentID])
}
