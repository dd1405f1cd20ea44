// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/internal/service"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ModerationHandler 负责处理线上审核决策相关的 API 请求。
type ModerationHandler struct {
	decisionService service.DecisionService
	minioCfg        config.MinIOConfig
}

// NewModerationHandler 创建一个新的 ModerationHandler 实例。
func NewModerationHandler(decisionService service.DecisionService, minioCfg config.MinIOConfig) *ModerationHandler {
	return &ModerationHandler{decisionService: decisionService, minioCfg: minioCfg}
}

// DecideRequest 定义了审核决策 API 的请求体结构。
// 图片二选一：imageBase64 直接内联，或 imageObject 引用对象存储中的键。
type DecideRequest struct {
	PostID      string `json:"postId" binding:"required"`
	PostText    string `json:"postText"`
	ImageBase64 string `json:"imageBase64"`
	ImageObject string `json:"imageObject"`
}

// Decide 处理一条帖子的审核决策请求。
// 特征计算失败或模型未加载时返回兜底决策（REVIEW），HTTP 层面仍视为成功。
func (h *ModerationHandler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Decide: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：postId 不能为空",
		})
		return
	}

	imageBytes, err := h.resolveImage(c, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	post := &model.Post{
		ID:         req.PostID,
		Text:       req.PostText,
		ImageBytes: imageBytes,
	}

	decision, err := h.decisionService.Decide(c.Request.Context(), post)
	if err != nil {
		if errors.Is(err, service.ErrFeaturizationFailed) || errors.Is(err, service.ErrNoModel) {
			log.Warnf("Decide: Degrading to fail-safe for post '%s', error: %v", req.PostID, err)
			decision = h.decisionService.FailSafe(c.Request.Context(), req.PostID)
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": decision})
			return
		}
		log.Error("Decide: Decision failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "决策失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": decision})
}

// resolveImage 解析请求中引用的图片字节。
func (h *ModerationHandler) resolveImage(c *gin.Context, req *DecideRequest) ([]byte, error) {
	switch {
	case req.ImageBase64 != "":
		imageBytes, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return nil, errors.New("imageBase64 不是合法的 base64 数据")
		}
		return imageBytes, nil
	case req.ImageObject != "":
		objectKey := req.ImageObject
		if h.minioCfg.ImagePrefix != "" && !strings.HasPrefix(objectKey, h.minioCfg.ImagePrefix) {
			objectKey = strings.TrimSuffix(h.minioCfg.ImagePrefix, "/") + "/" + strings.TrimPrefix(objectKey, "/")
		}
		imageBytes, err := storage.GetObjectBytes(c.Request.Context(), h.minioCfg.BucketName, objectKey)
		if err != nil {
			return nil, errors.New("无法读取 imageObject 引用的对象")
		}
		return imageBytes, nil
	default:
		return nil, errors.New("imageBase64 和 imageObject 必须提供其一")
	}
}

// RecentDecisions 返回最近的 N 条决策日志。
func (h *ModerationHandler) RecentDecisions(c *gin.Context) {
	n, err := strconv.ParseInt(c.DefaultQuery("n", "50"), 10, 64)
	if err != nil || n <= 0 {
		n = 50
	}

	decisions, err := h.decisionService.RecentDecisions(c.Request.Context(), n)
	if err != nil {
		log.Error("RecentDecisions: Failed to read decision log", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取决策日志失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": decisions})
}

// Stream 处理实时决策流的 WebSocket 连接。
// 认证已由 AuthMiddleware 完成（token 通过查询参数传递）。
func (h *ModerationHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.decisionService.Subscribe()
	defer cancel()

	log.Info("决策流 WebSocket 连接已建立")

	// 读泵只用于感知对端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case decision, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(decision); err != nil {
				log.Warnf("向 WebSocket 写入决策失败: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
