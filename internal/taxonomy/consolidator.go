package taxonomy

import (
	"context"
	"errors"
	"fmt"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/embedding"
	"auto-arxiv-go/pkg/log"
)

// Consolidator 接口定义了分类体系整合操作：发现语义重复的分类并产出合并建议。
type Consolidator interface {
	// ProposeMerges 扫描当前分类体系，返回合并建议列表。
	// 每条建议的 from 都是当前存在的分类，且 from 与 to 不同。
	ProposeMerges(ctx context.Context, clusterThreshold float64) ([]model.MergeProposal, error)
}

type consolidator struct {
	metadataRepo    repository.MetadataRepository
	embeddingClient embedding.Client
	classifier      agent.Classifier
}

// NewConsolidator 创建一个新的 Consolidator 实例。
func NewConsolidator(metadataRepo repository.MetadataRepository, embeddingClient embedding.Client, classifier agent.Classifier) Consolidator {
	return &consolidator{
		metadataRepo:    metadataRepo,
		embeddingClient: embeddingClient,
		classifier:      classifier,
	}
}

// ProposeMerges 执行三阶段整合：聚类圈定候选、大模型划分同义子集、裁决规范分类。
func (c *consolidator) ProposeMerges(ctx context.Context, clusterThreshold float64) ([]model.MergeProposal, error) {
	log.Info("[Consolidator] 步骤1: 加载当前分类体系")
	categories, err := c.metadataRepo.GetAllCategoryPairs()
	if err != nil {
		return nil, fmt.Errorf("加载分类体系失败: %w", err)
	}
	if len(categories) < 2 {
		log.Info("[Consolidator] 分类数量不足，无需整合")
		return nil, nil
	}

	log.Infof("[Consolidator] 步骤2: 计算 %d 个分类的向量", len(categories))
	texts := make([]string, len(categories))
	for i, cat := range categories {
		texts[i] = cat.Domain + " / " + cat.Task
	}
	vectors, err := c.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("计算分类向量失败: %w", err)
	}

	log.Info("[Consolidator] 步骤3: 层次聚类圈定候选组")
	clusters := AgglomerativeCluster(vectors, clusterThreshold)

	var proposals []model.MergeProposal
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		candidates := make([]model.Category, len(cluster))
		for i, idx := range cluster {
			candidates[i] = categories[idx]
		}

		log.Infof("[Consolidator] 步骤4: 对候选组做同义划分, 组大小: %d", len(candidates))
		subsets, err := c.classifier.PartitionSynonymSubsets(ctx, candidates)
		if err != nil {
			log.Error("[Consolidator] 同义划分失败，跳过该候选组", err)
			continue
		}

		for _, subset := range subsets {
			canonical, err := c.classifier.ArbitrateCanonical(ctx, subset)
			if err != nil {
				if errors.Is(err, agent.ErrCanonicalNotInSubset) {
					log.Warnf("[Consolidator] 裁决结果不在子集内，放弃该子集: %v", subset)
				} else {
					log.Error("[Consolidator] 规范分类裁决失败，跳过该子集", err)
				}
				continue
			}
			for _, cat := range subset {
				if cat == canonical {
					continue
				}
				proposals = append(proposals, model.MergeProposal{
					From:   cat,
					To:     canonical,
					Reason: fmt.Sprintf("与 %s / %s 属于同一研究方向", canonical.Domain, canonical.Task),
				})
			}
		}
	}

	log.Infof("[Consolidator] 整合完成, 产出 %d 条合并建议", len(proposals))
	return proposals, nil
}
