// Package index 实现一个基于暴力搜索的扁平向量索引。
// 向量按追加顺序存储，向量 ID 即其零基偏移量，与 vector_metadata 表的主键一一对应。
package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// 索引文件头魔数，用于加载时识别文件格式。
const fileMagic uint32 = 0x41565849 // "AVXI"

// SearchResult 是一次近邻搜索命中的结果。
type SearchResult struct {
	ID       int64   // 向量在索引中的偏移量
	Distance float32 // 与查询向量的平方 L2 距离
}

// FlatIndex 是线程安全的内存向量索引。
// 只支持追加和搜索，不支持删除：分类合并等操作只改写元数据，向量原地保留。
type FlatIndex struct {
	mu      sync.RWMutex
	dims    int
	vectors []float32 // 扁平存储，第 i 条向量占据 [i*dims, (i+1)*dims)
}

// NewFlatIndex 创建一个指定维度的空索引。
func NewFlatIndex(dims int) *FlatIndex {
	return &FlatIndex{dims: dims}
}

// Dims 返回索引的向量维度。
func (idx *FlatIndex) Dims() int {
	return idx.dims
}

// Count 返回索引中的向量数量。
func (idx *FlatIndex) Count() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int64(len(idx.vectors) / idx.dims)
}

// Add 追加一批向量并返回第一条向量获得的 ID。
// 任何一条向量维度不符都会拒绝整批写入。
func (idx *FlatIndex) Add(vectors [][]float32) (int64, error) {
	for i, v := range vectors {
		if len(v) != idx.dims {
			return 0, fmt.Errorf("向量维度不匹配: 期望 %d, 第 %d 条实际 %d", idx.dims, i, len(v))
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	startID := int64(len(idx.vectors) / idx.dims)
	for _, v := range vectors {
		idx.vectors = append(idx.vectors, v...)
	}
	return startID, nil
}

// Truncate 把索引截断到前 count 条向量，用于回滚一次失败的批量追加。
func (idx *FlatIndex) Truncate(count int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n := int(count) * idx.dims; n >= 0 && n < len(idx.vectors) {
		idx.vectors = idx.vectors[:n]
	}
}

// Search 返回与查询向量最近的 k 条向量，按平方 L2 距离升序排列。
// 索引中不足 k 条时返回全部。
func (idx *FlatIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != idx.dims {
		return nil, fmt.Errorf("查询向量维度不匹配: 期望 %d, 实际 %d", idx.dims, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := len(idx.vectors) / idx.dims
	results := make([]SearchResult, 0, count)
	for i := 0; i < count; i++ {
		base := i * idx.dims
		var dist float32
		for j, q := range query {
			d := idx.vectors[base+j] - q
			dist += d * d
		}
		results = append(results, SearchResult{ID: int64(i), Distance: dist})
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Save 将索引持久化到文件。先写临时文件再重命名，避免写一半的文件被加载。
func (idx *FlatIndex) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("创建索引目录失败: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建索引文件失败: %w", err)
	}

	count := uint64(len(idx.vectors) / idx.dims)
	header := []interface{}{fileMagic, uint32(idx.dims), count}
	for _, v := range header {
		if err = binary.Write(f, binary.LittleEndian, v); err != nil {
			break
		}
	}
	if err == nil {
		err = binary.Write(f, binary.LittleEndian, idx.vectors)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("写入索引文件失败: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load 从文件加载索引。文件不存在时返回空索引，维度不匹配时返回错误，
// 由调用方决定是否视为致命故障。
func Load(path string, dims int) (*FlatIndex, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewFlatIndex(dims), nil
	}
	if err != nil {
		return nil, fmt.Errorf("打开索引文件失败: %w", err)
	}
	defer f.Close()

	var magic, fileDims uint32
	var count uint64
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("读取索引文件头失败: %w", err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("索引文件格式不正确: magic=%#x", magic)
	}
	if err := binary.Read(f, binary.LittleEndian, &fileDims); err != nil {
		return nil, fmt.Errorf("读取索引文件头失败: %w", err)
	}
	if int(fileDims) != dims {
		return nil, fmt.Errorf("索引维度不匹配: 文件 %d, 配置 %d", fileDims, dims)
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("读取索引文件头失败: %w", err)
	}
	if count > math.MaxInt32 {
		return nil, fmt.Errorf("索引文件向量数异常: %d", count)
	}

	vectors := make([]float32, int(count)*dims)
	if err := binary.Read(f, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("读取索引向量数据失败: %w", err)
	}

	idx := NewFlatIndex(dims)
	idx.vectors = vectors
	return idx, nil
}
