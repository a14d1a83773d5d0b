package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"goim-comment/apps/comment-service/converter"
	"goim-comment/apps/comment-service/model"
	"goim-comment/apps/comment-service/service"
	"goim-comment/pkg/clock"
	"goim-comment/pkg/httpx"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/middleware"
)

// HTTPHandler HTTP处理器
type HTTPHandler struct {
	svc       *service.Service
	converter *converter.Converter
	clock     clock.Clock
	logger    logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, clk clock.Clock, logger logger.Logger) *HTTPHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &HTTPHandler{
		svc:       svc,
		converter: converter.NewConverter(clk.Now),
		clock:     clk,
		logger:    logger,
	}
}

// RegisterRoutes 注册路由，mws 作用于整个评论接口组（如接口级限流）
func (h *HTTPHandler) RegisterRoutes(engine *gin.Engine, mws ...gin.HandlerFunc) {
	api := engine.Group("/api/v1/comment", mws...)
	{
		// 基础评论操作
		api.POST("/create", h.CreateComment)
		api.POST("/update", h.UpdateComment)
		api.POST("/delete", h.DeleteComment)
		api.POST("/get", h.GetComment)
		api.POST("/revisions", h.ListRevisions)

		// 列表与线程
		api.POST("/list", h.ListComments)
		api.POST("/thread", h.GetThread)
		api.POST("/count", h.CountComments)

		// 举报
		api.POST("/flag", h.FlagComment)
		api.POST("/ban_status", h.GetBan)
	}

	mod := api.Group("/moderation")
	{
		mod.POST("/moderate", h.ModerateComment)
		mod.POST("/pending", h.ListPending)
		mod.POST("/flags", h.ListFlags)
		mod.POST("/review_flag", h.ReviewFlag)
		mod.POST("/ban", h.BanUser)
		mod.POST("/unban", h.UnbanUser)
		mod.POST("/bans", h.ListBans)
		mod.POST("/logs", h.ListLogs)
	}
}

func actorFrom(c *gin.Context) model.Actor {
	return model.Actor{
		UserID:       c.GetInt64(middleware.ContextUserID),
		AnonymousKey: c.GetString(middleware.ContextAnonKey),
		Roles:        c.GetStringSlice(middleware.ContextRoles),
	}
}

// bind 解析请求体，失败时已写出400
func (h *HTTPHandler) bind(c *gin.Context, op string, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn(c.Request.Context(), "Invalid request body",
			logger.F("op", op),
			logger.F("error", err.Error()))
		httpx.WriteError(c, http.StatusBadRequest, httpx.ErrorBody{Code: "invalid_request", Message: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) parseID(c *gin.Context, op, field, raw string) (int64, bool) {
	id, err := converter.ParseID(field, raw)
	if err != nil {
		h.writeError(c, op, err)
		return 0, false
	}
	return id, true
}

type createCommentRequest struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	ParentID   string `json:"parent_id"`
	Content    string `json:"content"`
	Format     string `json:"format"`
	UserName   string `json:"user_name"`
	UserEmail  string `json:"user_email"`
}

// CreateComment 创建评论
func (h *HTTPHandler) CreateComment(c *gin.Context) {
	const op = "create"
	var req createCommentRequest
	if !h.bind(c, op, &req) {
		return
	}
	objectID, ok := h.parseID(c, op, "object_id", req.ObjectID)
	if !ok {
		return
	}
	parentID, ok := h.parseID(c, op, "parent_id", req.ParentID)
	if !ok {
		return
	}

	actor := actorFrom(c)
	userName := req.UserName
	if name := c.GetString(middleware.ContextUsername); !actor.IsAnonymous() && name != "" {
		userName = name
	}
	params := &model.CreateCommentParams{
		ObjectID:   objectID,
		ObjectType: req.ObjectType,
		ParentID:   parentID,
		Content:    req.Content,
		Format:     req.Format,
		UserName:   userName,
		UserEmail:  req.UserEmail,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
	}

	comment, err := h.svc.CreateComment(c.Request.Context(), actor, params)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.WriteObject(c, http.StatusCreated, h.converter.CommentToDTO(comment, h.svc.IsModerator(actor)))
}

type updateCommentRequest struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

// UpdateComment 编辑评论
func (h *HTTPHandler) UpdateComment(c *gin.Context) {
	const op = "update"
	var req updateCommentRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	actor := actorFrom(c)
	comment, err := h.svc.UpdateComment(c.Request.Context(), actor, &model.UpdateCommentParams{
		CommentID: id,
		Content:   req.Content,
	})
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.CommentToDTO(comment, h.svc.IsModerator(actor)))
}

type commentIDRequest struct {
	CommentID string `json:"comment_id"`
}

// DeleteComment 作者或审核员删除评论
func (h *HTTPHandler) DeleteComment(c *gin.Context) {
	const op = "delete"
	var req commentIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	if err := h.svc.DeleteComment(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"deleted": true})
}

// GetComment 获取单条评论
func (h *HTTPHandler) GetComment(c *gin.Context) {
	const op = "get"
	var req commentIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	actor := actorFrom(c)
	comment, err := h.svc.GetComment(c.Request.Context(), actor, id)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.CommentToDTO(comment, h.svc.IsModerator(actor)))
}

// ListRevisions 编辑历史
func (h *HTTPHandler) ListRevisions(c *gin.Context) {
	const op = "revisions"
	var req commentIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	revs, err := h.svc.ListRevisions(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"revisions": h.converter.RevisionsToDTO(revs)})
}

type listCommentsRequest struct {
	ObjectType    string `json:"object_type"`
	ObjectID      string `json:"object_id"`
	IncludeHidden bool   `json:"include_hidden"`
	Sort          string `json:"sort"`
	Page          int32  `json:"page"`
	PageSize      int32  `json:"page_size"`
}

// ListComments 某对象下的顶级评论
func (h *HTTPHandler) ListComments(c *gin.Context) {
	const op = "list"
	var req listCommentsRequest
	if !h.bind(c, op, &req) {
		return
	}
	objectID, ok := h.parseID(c, op, "object_id", req.ObjectID)
	if !ok {
		return
	}
	params := &model.ListCommentsParams{
		ObjectID:      objectID,
		ObjectType:    req.ObjectType,
		IncludeHidden: req.IncludeHidden,
		Sort:          req.Sort,
		Page:          req.Page,
		PageSize:      req.PageSize,
	}
	params.Normalize()

	actor := actorFrom(c)
	list, total, err := h.svc.ListComments(c.Request.Context(), actor, params)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.CommentListToDTO(list, total, params.Page, params.PageSize, h.svc.IsModerator(actor)))
}

// GetThread 整棵回复树
func (h *HTTPHandler) GetThread(c *gin.Context) {
	const op = "thread"
	var req commentIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	actor := actorFrom(c)
	roots, err := h.svc.GetThread(c.Request.Context(), actor, id)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"thread": h.converter.CommentsToDTO(roots, h.svc.IsModerator(actor))})
}

type countRequest struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

// CountComments 公开评论数
func (h *HTTPHandler) CountComments(c *gin.Context) {
	const op = "count"
	var req countRequest
	if !h.bind(c, op, &req) {
		return
	}
	objectID, ok := h.parseID(c, op, "object_id", req.ObjectID)
	if !ok {
		return
	}
	n, err := h.svc.CountComments(c.Request.Context(), req.ObjectType, objectID)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{
		"object_type": req.ObjectType,
		"object_id":   converter.FormatID(objectID),
		"count":       n,
	})
}

type flagRequest struct {
	CommentID string `json:"comment_id"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

// FlagComment 举报评论
func (h *HTTPHandler) FlagComment(c *gin.Context) {
	const op = "flag"
	var req flagRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	flag, outcome, err := h.svc.FlagComment(c.Request.Context(), actorFrom(c), &model.FlagCommentParams{
		CommentID: id,
		Category:  req.Category,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.WriteObject(c, http.StatusCreated, h.converter.FlagResultToDTO(flag, outcome))
}

type userIDRequest struct {
	UserID string `json:"user_id"`
}

// GetBan 当前封禁状态，本人或审核员
func (h *HTTPHandler) GetBan(c *gin.Context) {
	const op = "ban_status"
	var req userIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	actor := actorFrom(c)
	userID, ok := h.parseID(c, op, "user_id", req.UserID)
	if !ok {
		return
	}
	if userID == 0 {
		userID = actor.UserID
	}
	ban, err := h.svc.GetBan(c.Request.Context(), actor, userID)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.BanStatusToDTO(userID, ban))
}

type moderateRequest struct {
	CommentID string `json:"comment_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

// ModerateComment 审核员通过、驳回或移除
func (h *HTTPHandler) ModerateComment(c *gin.Context) {
	const op = "moderate"
	var req moderateRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	comment, err := h.svc.ModerateComment(c.Request.Context(), actorFrom(c), &model.ModerateCommentParams{
		CommentID: id,
		Action:    req.Action,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.CommentToDTO(comment, true))
}

type pageRequest struct {
	Page     int32 `json:"page"`
	PageSize int32 `json:"page_size"`
}

// ListPending 待审核队列
func (h *HTTPHandler) ListPending(c *gin.Context) {
	const op = "pending"
	var req pageRequest
	if !h.bind(c, op, &req) {
		return
	}
	p := model.ListCommentsParams{Page: req.Page, PageSize: req.PageSize}
	p.Normalize()
	list, total, err := h.svc.ListPending(c.Request.Context(), actorFrom(c), p.Page, p.PageSize)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.CommentListToDTO(list, total, p.Page, p.PageSize, true))
}

// ListFlags 某条评论的举报
func (h *HTTPHandler) ListFlags(c *gin.Context) {
	const op = "flags"
	var req commentIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	id, ok := h.parseID(c, op, "comment_id", req.CommentID)
	if !ok {
		return
	}
	flags, err := h.svc.ListFlags(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"flags": h.converter.FlagsToDTO(flags)})
}

type reviewFlagRequest struct {
	FlagID string `json:"flag_id"`
	State  string `json:"state"`
}

// ReviewFlag 处理举报
func (h *HTTPHandler) ReviewFlag(c *gin.Context) {
	const op = "review_flag"
	var req reviewFlagRequest
	if !h.bind(c, op, &req) {
		return
	}
	flag, err := h.svc.ReviewFlag(c.Request.Context(), actorFrom(c), req.FlagID, req.State)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, h.converter.FlagToDTO(flag))
}

type banRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
	// ExpiresAt 与 Duration 二选一，都为空表示永久
	ExpiresAt *time.Time `json:"expires_at"`
	Duration  string     `json:"duration"`
}

// BanUser 人工封禁
func (h *HTTPHandler) BanUser(c *gin.Context) {
	const op = "ban"
	var req banRequest
	if !h.bind(c, op, &req) {
		return
	}
	userID, ok := h.parseID(c, op, "user_id", req.UserID)
	if !ok {
		return
	}
	if userID == 0 {
		h.writeError(c, op, model.NewValidationError("user_id", "required"))
		return
	}

	expiresAt := req.ExpiresAt
	if req.Duration != "" {
		if expiresAt != nil {
			h.writeError(c, op, model.NewValidationError("duration", "use either duration or expires_at"))
			return
		}
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d < 0 {
			h.writeError(c, op, model.NewValidationError("duration", "must be a positive duration such as 24h"))
			return
		}
		if d > 0 {
			t := h.clock.Now().Add(d)
			expiresAt = &t
		}
	}
	if expiresAt != nil && !expiresAt.After(h.clock.Now()) {
		h.writeError(c, op, model.NewValidationError("expires_at", "must be in the future"))
		return
	}

	ban, err := h.svc.BanUser(c.Request.Context(), actorFrom(c), &model.BanUserParams{
		UserID:    userID,
		Reason:    req.Reason,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.WriteObject(c, http.StatusCreated, h.converter.BanToDTO(ban))
}

// UnbanUser 解除封禁
func (h *HTTPHandler) UnbanUser(c *gin.Context) {
	const op = "unban"
	var req userIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	userID, ok := h.parseID(c, op, "user_id", req.UserID)
	if !ok {
		return
	}
	ban, err := h.svc.UnbanUser(c.Request.Context(), actorFrom(c), userID)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{
		"user_id": converter.FormatID(userID),
		"lifted":  ban != nil,
		"ban":     h.converter.BanToDTO(ban),
	})
}

// ListBans 封禁历史
func (h *HTTPHandler) ListBans(c *gin.Context) {
	const op = "bans"
	var req userIDRequest
	if !h.bind(c, op, &req) {
		return
	}
	userID, ok := h.parseID(c, op, "user_id", req.UserID)
	if !ok {
		return
	}
	bans, err := h.svc.ListBans(c.Request.Context(), actorFrom(c), userID)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"bans": h.converter.BansToDTO(bans)})
}

type logsRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
}

// ListLogs 审核日志
func (h *HTTPHandler) ListLogs(c *gin.Context) {
	const op = "logs"
	var req logsRequest
	if !h.bind(c, op, &req) {
		return
	}
	logs, err := h.svc.ListLogs(c.Request.Context(), actorFrom(c), req.SubjectType, req.SubjectID)
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	httpx.OK(c, gin.H{"logs": h.converter.LogsToDTO(logs)})
}
