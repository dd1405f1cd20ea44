package service

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// memFeatureRepo 是 FeatureRepository 的内存实现，持久层与在线视图各一张表。
type memFeatureRepo struct {
	mu            sync.Mutex
	durable       map[string]model.FeatureRecord
	online        map[string]model.FeatureRecord
	activeVersion string
}

func newMemFeatureRepo() *memFeatureRepo {
	return &memFeatureRepo{
		durable: make(map[string]model.FeatureRecord),
		online:  make(map[string]model.FeatureRecord),
	}
}

func repoKey(contentKey, version string) string { return version + ":" + contentKey }

func (r *memFeatureRepo) Insert(record *model.FeatureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(record.ContentKey, record.PipelineVersion)
	if _, exists := r.durable[key]; exists {
		return assert.AnError
	}
	r.durable[key] = *record
	return nil
}

func (r *memFeatureRepo) FindByKeyVersion(contentKey, pipelineVersion string) (*model.FeatureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.durable[repoKey(contentKey, pipelineVersion)]; ok {
		clone := record
		return &clone, nil
	}
	return nil, nil
}

func (r *memFeatureRepo) GetOnline(ctx context.Context, pipelineVersion, contentKey string) (*model.FeatureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.online[repoKey(contentKey, pipelineVersion)]; ok {
		clone := record
		return &clone, nil
	}
	return nil, nil
}

func (r *memFeatureRepo) SetOnline(ctx context.Context, record *model.FeatureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[repoKey(record.ContentKey, record.PipelineVersion)] = *record
	return nil
}

func (r *memFeatureRepo) PurgeOnlineVersion(ctx context.Context, pipelineVersion string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for key := range r.online {
		if strings.HasPrefix(key, pipelineVersion+":") {
			delete(r.online, key)
			purged++
		}
	}
	return purged, nil
}

func (r *memFeatureRepo) LoadActiveVersion(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeVersion, nil
}

func (r *memFeatureRepo) StoreActiveVersion(ctx context.Context, pipelineVersion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeVersion = pipelineVersion
	return nil
}

// memTrainingRepo 是 TrainingRepository 的内存实现（只追加）。
type memTrainingRepo struct {
	mu       sync.Mutex
	examples []model.TrainingExample
}

func (r *memTrainingRepo) Append(example *model.TrainingExample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	example.ID = uint(len(r.examples) + 1)
	r.examples = append(r.examples, *example)
	return nil
}

func (r *memTrainingRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.examples)), nil
}

func (r *memTrainingRepo) FindBatchAfter(afterID uint, limit int) ([]model.TrainingExample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var batch []model.TrainingExample
	for _, example := range r.examples {
		if example.ID > afterID && len(batch) < limit {
			batch = append(batch, example)
		}
	}
	return batch, nil
}

// countingFeaturizer 记录管道真实执行的次数，可注入延迟放大并发窗口。
type countingFeaturizer struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	version string
}

func (f *countingFeaturizer) Featurize(ctx context.Context, post *model.Post) (*model.FeatureRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	tags := make(model.TagVector)
	scores := make(model.ScoreVector)
	for _, name := range model.TagSchema() {
		tags[name] = 0
		scores[name] = 0.1
	}
	return &model.FeatureRecord{
		ContentKey:      model.ContentKey(post.Text, post.ImageBytes),
		PipelineVersion: f.version,
		FusedContext:    "fused:" + post.Text,
		Scores:          scores,
		Tags:            tags,
		Source:          model.SourceComputed,
	}, nil
}

func (f *countingFeaturizer) Version() string { return f.version }

func (f *countingFeaturizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestGetOrComputeCacheSemantics 首次计算返回 computed，后续命中返回 cache_hit，
// 且不再触发管道执行。
func TestGetOrComputeCacheSemantics(t *testing.T) {
	repo := newMemFeatureRepo()
	featurizer := &countingFeaturizer{version: "v1"}
	store := NewFeatureStoreService(repo, &memTrainingRepo{}, featurizer, nil)

	post := &model.Post{ID: "p1", Text: "hello", ImageBytes: []byte("img")}

	first, err := store.GetOrCompute(context.Background(), post, model.PartitionOffline)
	require.NoError(t, err)
	assert.Equal(t, model.SourceComputed, first.Source)
	assert.Equal(t, model.PartitionOffline, first.Partition)

	second, err := store.GetOrCompute(context.Background(), post, model.PartitionOnline)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCacheHit, second.Source)
	// 缓存命中的记录保留首次物化时的分区标记
	assert.Equal(t, model.PartitionOffline, second.Partition)

	assert.Equal(t, 1, featurizer.callCount())
	assert.Equal(t, first.ContentKey, second.ContentKey)
	assert.Equal(t, first.Tags.Encode(), second.Tags.Encode())
}

// TestGetOrComputeSingleFlight 同一 content_key 的并发未命中请求只执行一次管道计算。
func TestGetOrComputeSingleFlight(t *testing.T) {
	repo := newMemFeatureRepo()
	featurizer := &countingFeaturizer{version: "v1", delay: 20 * time.Millisecond}
	store := NewFeatureStoreService(repo, &memTrainingRepo{}, featurizer, nil)

	post := &model.Post{ID: "p1", Text: "concurrent", ImageBytes: []byte("img")}

	const workers = 20
	var wg sync.WaitGroup
	records := make([]*model.FeatureRecord, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			records[idx], errs[idx] = store.GetOrCompute(context.Background(), post, model.PartitionOnline)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, featurizer.callCount())
	computed := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, records[i])
		if records[i].Source == model.SourceComputed {
			computed++
		}
	}
	// 恰好一个调用方观察到 computed，其余共享计算的都观察到缓存语义
	assert.Equal(t, 1, computed)
}

// TestInvalidatePartitionsCache 版本提升后绝不返回旧版本的记录，旧在线键被回收。
func TestInvalidatePartitionsCache(t *testing.T) {
	repo := newMemFeatureRepo()
	featurizer := &countingFeaturizer{version: "v1"}
	store := NewFeatureStoreService(repo, &memTrainingRepo{}, featurizer, nil)

	post := &model.Post{ID: "p1", Text: "hello", ImageBytes: []byte("img")}
	_, err := store.GetOrCompute(context.Background(), post, model.PartitionOnline)
	require.NoError(t, err)
	assert.Equal(t, "v1", store.ActiveVersion())

	purged, err := store.Invalidate(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, "v2", store.ActiveVersion())

	record, err := store.GetOrCompute(context.Background(), post, model.PartitionOnline)
	require.NoError(t, err)
	assert.Equal(t, "v2", record.PipelineVersion)
	assert.Equal(t, model.SourceComputed, record.Source)
	assert.Equal(t, 2, featurizer.callCount())
}

// TestInvalidateRejectsNoOp 空版本或当前活动版本都不是合法的提升目标。
func TestInvalidateRejectsNoOp(t *testing.T) {
	store := NewFeatureStoreService(newMemFeatureRepo(), &memTrainingRepo{}, &countingFeaturizer{version: "v1"}, nil)

	_, err := store.Invalidate(context.Background(), "")
	assert.Error(t, err)

	_, err = store.Invalidate(context.Background(), "v1")
	assert.Error(t, err)
}

// TestInvalidateSurvivesRestart 提升过的活动版本持久化在存储层，
// 重启（重建服务）后仍以提升后的版本为准，而不是退回管道配置里的初值。
func TestInvalidateSurvivesRestart(t *testing.T) {
	repo := newMemFeatureRepo()
	featurizer := &countingFeaturizer{version: "v1"}
	store := NewFeatureStoreService(repo, &memTrainingRepo{}, featurizer, nil)

	post := &model.Post{ID: "p1", Text: "hello", ImageBytes: []byte("img")}
	_, err := store.GetOrCompute(context.Background(), post, model.PartitionOnline)
	require.NoError(t, err)

	_, err = store.Invalidate(context.Background(), "v2")
	require.NoError(t, err)

	restarted := NewFeatureStoreService(repo, &memTrainingRepo{}, featurizer, nil)
	assert.Equal(t, "v2", restarted.ActiveVersion())

	// v1 的持久记录在重启后依然不可达
	record, err := restarted.GetOrCompute(context.Background(), post, model.PartitionOnline)
	require.NoError(t, err)
	assert.Equal(t, "v2", record.PipelineVersion)
	assert.Equal(t, model.SourceComputed, record.Source)
}

// TestTrainingCorpusAppendOnly 语料按插入顺序遍历，重复追加同 key 不覆盖旧样本。
func TestTrainingCorpusAppendOnly(t *testing.T) {
	trainingRepo := &memTrainingRepo{}
	store := NewFeatureStoreService(newMemFeatureRepo(), trainingRepo, &countingFeaturizer{version: "v1"}, nil)

	record := &model.FeatureRecord{
		ContentKey:      "abc",
		PipelineVersion: "v1",
		FusedContext:    "ctx",
		Scores:          model.ScoreVector{},
		Tags:            model.TagVector{},
	}
	require.NoError(t, store.AppendTrainingExample(record, 0))
	// 标签修正通过追加新行表达
	require.NoError(t, store.AppendTrainingExample(record, 1))

	var labels []int
	err := store.IterTrainingCorpus(func(example model.TrainingExample) error {
		labels = append(labels, example.Label)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, labels)

	size, err := store.TrainingCorpusSize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}
