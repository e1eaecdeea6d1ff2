// Package taxonomy 实现分类体系的整合与合并：聚类发现相近分类、
// 大模型裁决规范命名、事务化执行合并。
package taxonomy

import (
	"math"
)

// cosineDistance 返回 1 - 余弦相似度。零向量间的距离视为最大值 1。
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// AgglomerativeCluster 对向量做平均链接的凝聚层次聚类，
// 当任意两个簇之间的平均余弦距离都不低于 threshold 时停止合并。
// 返回每个簇包含的向量下标，单元素簇也会返回。
func AgglomerativeCluster(vectors [][]float32, threshold float64) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	// 预计算成对距离
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := cosineDistance(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for len(clusters) > 1 {
		// 找出平均距离最小的一对簇
		bestA, bestB := -1, -1
		bestDist := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				d := averageLinkage(clusters[a], clusters[b], dist)
				if d < bestDist {
					bestDist = d
					bestA, bestB = a, b
				}
			}
		}
		if bestDist >= threshold {
			break
		}

		merged := append(append([]int{}, clusters[bestA]...), clusters[bestB]...)
		next := make([][]int, 0, len(clusters)-1)
		for i, c := range clusters {
			if i != bestA && i != bestB {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters
}

// averageLinkage 返回两个簇之间所有成对距离的平均值。
func averageLinkage(a, b []int, dist [][]float64) float64 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}
