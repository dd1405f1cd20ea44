package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/kafka"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/storage"
	"meme-guard-go/pkg/tasks"
)

// IngestService 是训练语料接入的业务层。
// 清单是行分隔的 JSON（{id, text, img, label}），图片事先放入对象存储；
// 每行产出一个 Kafka 任务，由后台消费者走与线上完全相同的特征化路径。
type IngestService interface {
	// IngestManifest 解析清单并逐行投递接入任务；返回 (入队数, 跳过数)。
	IngestManifest(ctx context.Context, manifest io.Reader) (int, int, error)
	// VerifyManifest 核对清单引用的图片与对象存储的实际内容。
	VerifyManifest(ctx context.Context, manifest io.Reader) (*VerifyReport, error)
	// Process 是 Kafka 消费者的入口：特征化一条帖子并追加训练样本。
	Process(ctx context.Context, task tasks.PostIngestTask) error
}

// VerifyReport 是语料完整性核对的结果。
type VerifyReport struct {
	ReferencedCount  int      `json:"referencedCount"`
	ObjectCount      int      `json:"objectCount"`
	MissingFromStore []string `json:"missingFromStore"`
	ExtraInStore     []string `json:"extraInStore"`
}

// manifestEntry 对应清单的一行。
type manifestEntry struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Img   string `json:"img"`
	Label *int   `json:"label"`
}

type ingestService struct {
	store    FeatureStoreService
	minioCfg config.MinIOConfig
	produce  func(task tasks.PostIngestTask) error
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(store FeatureStoreService, minioCfg config.MinIOConfig) IngestService {
	return &ingestService{
		store:    store,
		minioCfg: minioCfg,
		produce:  kafka.ProduceIngestTask,
	}
}

// imageObject 把清单中的相对图片路径换算成对象键。
func (s *ingestService) imageObject(img string) string {
	if s.minioCfg.ImagePrefix == "" || strings.HasPrefix(img, s.minioCfg.ImagePrefix) {
		return img
	}
	return strings.TrimSuffix(s.minioCfg.ImagePrefix, "/") + "/" + strings.TrimPrefix(img, "/")
}

// IngestManifest 逐行解析清单并投递任务。
// 缺少 id/img/label 的行跳过并计数，不中断整体接入。
func (s *ingestService) IngestManifest(ctx context.Context, manifest io.Reader) (int, int, error) {
	scanner := bufio.NewScanner(manifest)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	enqueued, skipped := 0, 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry manifestEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warnf("[Ingest] 清单第 %d 行解析失败, 跳过: %v", lineNo, err)
			skipped++
			continue
		}
		if entry.ID == "" || entry.Img == "" || entry.Label == nil {
			log.Warnf("[Ingest] 清单第 %d 行缺少 id/img/label, 跳过", lineNo)
			skipped++
			continue
		}

		task := tasks.PostIngestTask{
			PostID:      entry.ID,
			PostText:    entry.Text,
			ImageObject: s.imageObject(entry.Img),
			Label:       *entry.Label,
		}
		if err := s.produce(task); err != nil {
			return enqueued, skipped, fmt.Errorf("投递接入任务失败 (第 %d 行): %w", lineNo, err)
		}
		enqueued++
	}
	if err := scanner.Err(); err != nil {
		return enqueued, skipped, fmt.Errorf("读取清单失败: %w", err)
	}

	log.Infof("[Ingest] 清单接入完成, 入队: %d, 跳过: %d", enqueued, skipped)
	return enqueued, skipped, nil
}

// verifyReportLimit 限制报告中列出的对象键数量。
const verifyReportLimit = 20

// VerifyManifest 比对清单引用与对象存储实际内容，找出两侧的缺失。
func (s *ingestService) VerifyManifest(ctx context.Context, manifest io.Reader) (*VerifyReport, error) {
	referenced := make(map[string]struct{})

	scanner := bufio.NewScanner(manifest)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry manifestEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.Img == "" {
			continue
		}
		referenced[s.imageObject(entry.Img)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	keys, err := storage.ListObjectKeys(ctx, s.minioCfg.BucketName, s.minioCfg.ImagePrefix)
	if err != nil {
		return nil, fmt.Errorf("列举图片对象失败: %w", err)
	}

	existing := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if storage.IsImageKey(key) {
			existing[key] = struct{}{}
		}
	}

	report := &VerifyReport{
		ReferencedCount: len(referenced),
		ObjectCount:     len(existing),
	}
	for key := range referenced {
		if _, ok := existing[key]; !ok && len(report.MissingFromStore) < verifyReportLimit {
			report.MissingFromStore = append(report.MissingFromStore, key)
		}
	}
	for key := range existing {
		if _, ok := referenced[key]; !ok && len(report.ExtraInStore) < verifyReportLimit {
			report.ExtraInStore = append(report.ExtraInStore, key)
		}
	}

	log.Infof("[Ingest] 完整性核对完成, 引用: %d, 实存: %d, 缺失: %d, 多余: %d",
		report.ReferencedCount, report.ObjectCount, len(report.MissingFromStore), len(report.ExtraInStore))
	return report, nil
}

// Process 处理一条接入任务：取图 → GetOrCompute（与线上同一路径）→ 追加训练样本。
func (s *ingestService) Process(ctx context.Context, task tasks.PostIngestTask) error {
	imageBytes, err := storage.GetObjectBytes(ctx, s.minioCfg.BucketName, task.ImageObject)
	if err != nil {
		return fmt.Errorf("下载图片对象 %s 失败: %w", task.ImageObject, err)
	}
	if len(imageBytes) == 0 {
		return fmt.Errorf("图片对象 %s 内容为空", task.ImageObject)
	}

	label := task.Label
	post := &model.Post{
		ID:         task.PostID,
		Text:       task.PostText,
		ImageBytes: imageBytes,
		Label:      &label,
	}

	record, err := s.store.GetOrCompute(ctx, post, model.PartitionOffline)
	if err != nil {
		return fmt.Errorf("特征化帖子 %s 失败: %w", task.PostID, err)
	}

	if err := s.store.AppendTrainingExample(record, label); err != nil {
		return fmt.Errorf("追加训练样本失败: %w", err)
	}

	log.Infof("[Ingest] 训练样本已入库, PostID: %s, ContentKey: %s, Label: %d, Source: %s",
		task.PostID, record.ContentKey, label, record.Source)
	return nil
}
