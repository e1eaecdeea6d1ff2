package taxonomy

import (
	"fmt"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/log"
)

// Merger 接口定义了合并建议的执行操作。
type Merger interface {
	// Apply 依次执行合并建议，返回实际生效的建议。
	// 单条建议失败不会中断后续建议，但空壳任务清理只在全部建议处理完后执行一次。
	Apply(proposals []model.MergeProposal) ([]model.MergeProposal, error)
}

type merger struct {
	metadataRepo repository.MetadataRepository
}

// NewMerger 创建一个新的 Merger 实例。
func NewMerger(metadataRepo repository.MetadataRepository) Merger {
	return &merger{metadataRepo: metadataRepo}
}

// Apply 分两阶段执行合并。第一阶段逐条建议在单个事务中重定向论文和
// 向量元数据，并收集被清空的来源任务 ID；第二阶段统一删除收集到的任务。
// 建议链 (A->B, B->C) 中间的任务也会在重定向后被收集，因此必须等全部
// 建议处理完再删除。
func (m *merger) Apply(proposals []model.MergeProposal) ([]model.MergeProposal, error) {
	var applied []model.MergeProposal
	orphans := make(map[uint]bool)
	for _, p := range proposals {
		if p.From == p.To {
			log.Warnf("[Merger] 跳过自合并建议: %s / %s", p.From.Domain, p.From.Task)
			continue
		}
		fromTaskID, merged, err := m.applyOne(p)
		if err != nil {
			log.Error(fmt.Sprintf("[Merger] 合并失败: %s/%s -> %s/%s", p.From.Domain, p.From.Task, p.To.Domain, p.To.Task), err)
			continue
		}
		if merged {
			orphans[fromTaskID] = true
		}
		applied = append(applied, p)
	}

	if len(orphans) > 0 {
		ids := make([]uint, 0, len(orphans))
		for id := range orphans {
			ids = append(ids, id)
		}
		deleted, err := m.metadataRepo.DeleteTasksByIDs(ids)
		if err != nil {
			return applied, fmt.Errorf("清理空壳任务失败: %w", err)
		}
		log.Infof("[Merger] 合并完成, 生效 %d 条建议, 清理 %d 个空壳任务", len(applied), deleted)
	}
	return applied, nil
}

// applyOne 执行单条合并建议，返回来源任务 ID 以及是否真正发生了重定向。
// 来源分类经解析后与目标相同时是无操作，来源任务不应被删除。
func (m *merger) applyOne(p model.MergeProposal) (uint, bool, error) {
	fromDomain, err := m.metadataRepo.FindDomainByName(p.From.Domain)
	if err != nil {
		return 0, false, fmt.Errorf("来源领域不存在: %w", err)
	}
	fromTask, err := m.metadataRepo.FindTaskByName(fromDomain.ID, p.From.Task)
	if err != nil {
		return 0, false, fmt.Errorf("来源任务不存在: %w", err)
	}

	// 目标分类可能尚未建立，按需创建
	toDomain, err := m.metadataRepo.GetOrCreateDomain(nil, p.To.Domain, "")
	if err != nil {
		return 0, false, fmt.Errorf("获取目标领域失败: %w", err)
	}
	toTask, err := m.metadataRepo.GetOrCreateTask(nil, toDomain.ID, p.To.Task, "")
	if err != nil {
		return 0, false, fmt.Errorf("获取目标任务失败: %w", err)
	}
	if fromDomain.ID == toDomain.ID && fromTask.ID == toTask.ID {
		return fromTask.ID, false, nil
	}

	if err := m.metadataRepo.ExecuteCategoryMerge(fromDomain.ID, fromTask.ID, toDomain.ID, toTask.ID); err != nil {
		return 0, false, err
	}
	return fromTask.ID, true, nil
}
