package service

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/students/model"
)

type Pricing struct {
	BaseCents     int64
	DiscountCents int64
}

// EffectiveMonthlyRate applies the sibling discount to everyone but the first
// sibling. An explicit per-student rate always wins.
func (p Pricing) EffectiveMonthlyRate(siblingRank int, override *int64) int64 {
	if override != nil && *override > 0 {
		return *override
	}
	if siblingRank <= 0 {
		return p.BaseCents
	}
	rate := p.BaseCents - p.DiscountCents
	if rate < 0 {
		return 0
	}
	return rate
}

// Rates returns the monthly rate of each student. Siblings are ranked by
// creation time across their whole group, not just the ones passed in.
func (p Pricing) Rates(ctx context.Context, db *gorm.DB, students []model.StudentModel) (map[uuid.UUID]int64, error) {
	groupIDs := map[uuid.UUID]struct{}{}
	for _, s := range students {
		if s.StudentSiblingGroupID != nil {
			groupIDs[*s.StudentSiblingGroupID] = struct{}{}
		}
	}

	rank := map[uuid.UUID]int{}
	if len(groupIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(groupIDs))
		for id := range groupIDs {
			ids = append(ids, id)
		}
		var members []model.StudentModel
		if err := db.WithContext(ctx).
			Where("student_sibling_group_id IN ?", ids).
			Where("student_status <> ?", model.StudentStatusWithdrawn).
			Find(&members).Error; err != nil {
			return nil, err
		}
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].StudentCreatedAt.Equal(members[j].StudentCreatedAt) {
				return members[i].StudentID.String() < members[j].StudentID.String()
			}
			return members[i].StudentCreatedAt.Before(members[j].StudentCreatedAt)
		})
		seen := map[uuid.UUID]int{}
		for _, m := range members {
			g := *m.StudentSiblingGroupID
			rank[m.StudentID] = seen[g]
			seen[g]++
		}
	}

	out := make(map[uuid.UUID]int64, len(students))
	for _, s := range students {
		out[s.StudentID] = p.EffectiveMonthlyRate(rank[s.StudentID], s.StudentMonthlyRateCents)
	}
	return out, nil
}
