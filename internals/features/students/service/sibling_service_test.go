package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/databases/dbtest"
	"tuitionpay_backend/internals/features/students/model"
)

func seedStudents(t *testing.T, db *gorm.DB, names ...string) []model.StudentModel {
	t.Helper()
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	out := make([]model.StudentModel, 0, len(names))
	for i, n := range names {
		st := model.StudentModel{StudentFirstName: n, StudentLastName: "Park", StudentCreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, db.Create(&st).Error)
		out = append(out, st)
	}
	return out
}

func groupOf(t *testing.T, db *gorm.DB, id uuid.UUID) *uuid.UUID {
	t.Helper()
	var st model.StudentModel
	require.NoError(t, db.First(&st, "student_id = ?", id).Error)
	return st.StudentSiblingGroupID
}

func TestCreateGroup_NeedsTwoStudents(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewSiblingService(db)
	st := seedStudents(t, db, "Jin")

	_, err := svc.CreateGroup(context.Background(), nil, []uuid.UUID{st[0].StudentID, st[0].StudentID})
	assert.Error(t, err)

	_, err = svc.CreateGroup(context.Background(), nil, []uuid.UUID{st[0].StudentID, uuid.New()})
	assert.Error(t, err)

	var groups int64
	require.NoError(t, db.Model(&model.SiblingGroupModel{}).Count(&groups).Error)
	assert.Zero(t, groups)
}

func TestRemoveMember_DissolvesPair(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewSiblingService(db)
	ctx := context.Background()
	st := seedStudents(t, db, "Jin", "Min")

	group, err := svc.CreateGroup(ctx, nil, []uuid.UUID{st[0].StudentID, st[1].StudentID})
	require.NoError(t, err)

	dissolved, err := svc.RemoveMember(ctx, group.SiblingGroupID, st[0].StudentID)
	require.NoError(t, err)
	assert.True(t, dissolved)

	assert.Nil(t, groupOf(t, db, st[0].StudentID))
	assert.Nil(t, groupOf(t, db, st[1].StudentID), "remaining member loses the reference")

	var groups int64
	require.NoError(t, db.Model(&model.SiblingGroupModel{}).Count(&groups).Error)
	assert.Zero(t, groups)
}

func TestRemoveMember_KeepsLargerGroup(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewSiblingService(db)
	ctx := context.Background()
	st := seedStudents(t, db, "Jin", "Min", "Soo")

	group, err := svc.CreateGroup(ctx, nil, []uuid.UUID{st[0].StudentID, st[1].StudentID, st[2].StudentID})
	require.NoError(t, err)

	dissolved, err := svc.RemoveMember(ctx, group.SiblingGroupID, st[2].StudentID)
	require.NoError(t, err)
	assert.False(t, dissolved)
	require.NotNil(t, groupOf(t, db, st[0].StudentID))
	assert.Equal(t, group.SiblingGroupID, *groupOf(t, db, st[1].StudentID))
}

func TestAddMember_MovingLastPartnerDissolvesOldGroup(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewSiblingService(db)
	ctx := context.Background()
	st := seedStudents(t, db, "A", "B", "C", "D")

	first, err := svc.CreateGroup(ctx, nil, []uuid.UUID{st[0].StudentID, st[1].StudentID})
	require.NoError(t, err)
	second, err := svc.CreateGroup(ctx, nil, []uuid.UUID{st[2].StudentID, st[3].StudentID})
	require.NoError(t, err)

	require.NoError(t, svc.AddMember(ctx, second.SiblingGroupID, st[0].StudentID))

	assert.Equal(t, second.SiblingGroupID, *groupOf(t, db, st[0].StudentID))
	assert.Nil(t, groupOf(t, db, st[1].StudentID))
	err = db.First(&model.SiblingGroupModel{}, "sibling_group_id = ?", first.SiblingGroupID).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteGroup(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewSiblingService(db)
	ctx := context.Background()
	st := seedStudents(t, db, "A", "B")

	group, err := svc.CreateGroup(ctx, nil, []uuid.UUID{st[0].StudentID, st[1].StudentID})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteGroup(ctx, group.SiblingGroupID))
	assert.Nil(t, groupOf(t, db, st[0].StudentID))
	assert.Error(t, svc.DeleteGroup(ctx, group.SiblingGroupID))

	views, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, views)
}
