package services

import (
	"context"
	"errors"

	"iam/internal/models"
	"iam/internal/repository"
	apperrors "iam/pkg/errors"
	"iam/pkg/idgen"
	"iam/pkg/jwt"
	"iam/pkg/pagination"

	"github.com/sirupsen/logrus"
)

// GroupService 租户内用户组管理
type GroupService struct {
	repo  repository.GroupRepository
	codes *CodeAllocator
	ids   idgen.Generator
	log   *logrus.Logger
}

// NewGroupService 创建用户组服务
func NewGroupService(repo repository.GroupRepository, codes *CodeAllocator, ids idgen.Generator, log *logrus.Logger) *GroupService {
	return &GroupService{repo: repo, codes: codes, ids: ids, log: log}
}

func (s *GroupService) List(ctx context.Context, tenantID int64, params *pagination.PageParams) ([]models.Group, int64, error) {
	return s.repo.List(ctx, tenantID, params)
}

func (s *GroupService) Get(ctx context.Context, tenantID, id int64) (*models.Group, error) {
	return s.repo.FindByID(ctx, tenantID, id)
}

// Create 新增用户组，编码在租户内唯一，插入时编码冲突则重新分配
func (s *GroupService) Create(ctx context.Context, login *jwt.LoginInfo, tenantID int64, c *models.GroupCandidate) (int64, error) {
	group := &models.Group{
		ID:        s.ids.NextID(),
		TenantID:  tenantID,
		Name:      c.Name,
		Remark:    c.Remark,
		Creator:   login.UserName,
		CreatorID: login.UserID,
	}

	for attempt := 0; attempt < s.codes.MaxAttempts(); attempt++ {
		code, err := s.codes.Allocate(ctx, s.codes.GroupFormat(), func(ctx context.Context, code string) (bool, error) {
			return s.repo.ExistsCode(ctx, tenantID, code)
		})
		if err != nil {
			return 0, err
		}
		group.Code = code

		err = s.repo.Insert(ctx, group)
		if errors.Is(err, repository.ErrCodeConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		s.log.WithFields(logrus.Fields{"group_id": group.ID, "tenant_id": tenantID, "code": code}).Info("新增用户组")
		return group.ID, nil
	}
	return 0, apperrors.ErrAllocationExhausted
}

func (s *GroupService) Update(ctx context.Context, tenantID, id int64, c *models.GroupCandidate) error {
	return s.repo.Update(ctx, &models.Group{ID: id, TenantID: tenantID, Name: c.Name, Remark: c.Remark})
}

// Delete 删除用户组，内置用户组不可删除
func (s *GroupService) Delete(ctx context.Context, tenantID, id int64) error {
	return s.repo.WithTx(ctx, func(tx repository.GroupRepository) error {
		group, err := tx.FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if group.Builtin {
			return apperrors.ErrBuiltinProtected
		}
		return tx.Delete(ctx, tenantID, id)
	})
}

func (s *GroupService) ListMembers(ctx context.Context, tenantID, id int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error) {
	if _, err := s.repo.FindByID(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	return s.repo.ListMembers(ctx, id, params)
}

// ListOthers 租户内尚未加入该用户组的用户
func (s *GroupService) ListOthers(ctx context.Context, tenantID, id int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error) {
	if _, err := s.repo.FindByID(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	return s.repo.ListOthers(ctx, tenantID, id, params)
}

// AddMembers 只能添加本租户的用户，任一用户不属于该租户则整体拒绝
func (s *GroupService) AddMembers(ctx context.Context, tenantID, id int64, userIDs []int64) error {
	if _, err := s.repo.FindByID(ctx, tenantID, id); err != nil {
		return err
	}
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return nil
	}
	n, err := s.repo.CountTenantUsers(ctx, tenantID, userIDs)
	if err != nil {
		return err
	}
	if n != int64(len(userIDs)) {
		return apperrors.ErrNotTenantMember
	}
	return s.repo.AddMembers(ctx, id, userIDs)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *GroupService) RemoveMembers(ctx context.Context, tenantID, id int64, userIDs []int64) error {
	if _, err := s.repo.FindByID(ctx, tenantID, id); err != nil {
		return err
	}
	return s.repo.RemoveMembers(ctx, id, userIDs)
}
