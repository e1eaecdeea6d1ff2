package service

import (
	"context"

	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/taxonomy"
)

// TaxonomyService 接口定义了分类体系整合的按需触发操作。
// 每日工作流会自动整合，这里提供给运维人员手动审阅和执行合并的入口。
type TaxonomyService interface {
	// ProposeMerges 产出合并建议但不执行。
	ProposeMerges(ctx context.Context) ([]model.MergeProposal, error)
	// ApplyMerges 执行一批合并建议并同步派生文件，返回实际生效的建议。
	ApplyMerges(ctx context.Context, proposals []model.MergeProposal) ([]model.MergeProposal, error)
}

type taxonomyService struct {
	settings          *config.SettingsManager
	consolidator      taxonomy.Consolidator
	merger            taxonomy.Merger
	preferenceService PreferenceService
}

// NewTaxonomyService 创建一个新的 TaxonomyService 实例。
func NewTaxonomyService(
	settings *config.SettingsManager,
	consolidator taxonomy.Consolidator,
	merger taxonomy.Merger,
	preferenceService PreferenceService,
) TaxonomyService {
	return &taxonomyService{
		settings:          settings,
		consolidator:      consolidator,
		merger:            merger,
		preferenceService: preferenceService,
	}
}

// ProposeMerges 产出合并建议。
func (s *taxonomyService) ProposeMerges(ctx context.Context) ([]model.MergeProposal, error) {
	return s.consolidator.ProposeMerges(ctx, s.settings.Current().ClusterDistance)
}

// ApplyMerges 执行合并建议并重写分类目录与偏好文件。
func (s *taxonomyService) ApplyMerges(ctx context.Context, proposals []model.MergeProposal) ([]model.MergeProposal, error) {
	applied, err := s.merger.Apply(proposals)
	if err != nil {
		return applied, err
	}
	if len(applied) > 0 {
		if err := s.preferenceService.RemapAfterMerges(applied); err != nil {
			return applied, err
		}
	}
	return applied, nil
}
