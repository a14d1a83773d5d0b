package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"goim-comment/apps/comment-service/dao"
	"goim-comment/apps/comment-service/internal/banning"
	"goim-comment/apps/comment-service/internal/cache"
	"goim-comment/apps/comment-service/internal/classifier"
	"goim-comment/apps/comment-service/internal/flagging"
	"goim-comment/apps/comment-service/internal/formatting"
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/apps/comment-service/internal/thread"
	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/clock"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/ratelimit"
)

// IDGenerator 评论、封禁、日志的ID生成
type IDGenerator interface {
	Generate() int64
}

// Archiver 清理前归档被物理删除的评论
type Archiver interface {
	Archive(ctx context.Context, comments []*model.Comment) error
}

// Deps 服务依赖
type Deps struct {
	Store      dao.Store
	Classifier *classifier.Classifier
	Limiter    *ratelimit.Limiter
	Locker     banning.Locker
	Emitter    notify.Emitter
	IDs        IDGenerator
	Clock      clock.Clock
	Logger     logger.Logger
	// Archiver 可选
	Archiver Archiver
	// CacheSize、CacheTTL 评论数缓存，TTL 为0不缓存
	CacheSize int
	CacheTTL  time.Duration
}

// Service 评论服务
type Service struct {
	settings model.Settings

	store      dao.Store
	classifier *classifier.Classifier
	threads    *thread.Manager
	flags      *flagging.Aggregator
	bans       *banning.Engine
	limiter    *ratelimit.Limiter
	emitter    notify.Emitter
	counts     *cache.CountCache
	archiver   Archiver
	ids        IDGenerator
	clock      clock.Clock
	logger     logger.Logger
}

// NewService 创建评论服务实例
func NewService(settings model.Settings, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Classifier == nil || deps.Limiter == nil || deps.Emitter == nil || deps.IDs == nil {
		return nil, errors.New("service: store, classifier, limiter, emitter and id generator are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = banning.NewMemoryLocker()
	}

	counts, err := cache.NewCountCache(deps.Store, deps.CacheSize, deps.CacheTTL, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("create count cache: %w", err)
	}

	return &Service{
		settings:   settings,
		store:      deps.Store,
		classifier: deps.Classifier,
		threads:    thread.NewManager(settings.MaxCommentDepth),
		flags:      flagging.NewAggregator(deps.Store, flagging.ThresholdsOf(&settings), deps.Clock),
		bans:       banning.NewEngine(deps.Store, banning.PolicyOf(&settings), deps.Locker, deps.IDs, deps.Clock),
		limiter:    deps.Limiter,
		emitter:    deps.Emitter,
		counts:     counts,
		archiver:   deps.Archiver,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}, nil
}

// Settings 当前生效的引擎配置
func (s *Service) Settings() model.Settings {
	return s.settings
}

// IsModerator 是否拥有审核权限
func (s *Service) IsModerator(actor model.Actor) bool {
	return s.settings.IsModerator(actor)
}

func (s *Service) requireModerator(actor model.Actor) error {
	if !s.settings.IsModerator(actor) {
		return fmt.Errorf("%w: moderator role required", model.ErrForbidden)
	}
	return nil
}

// checkRate 超限时返回 *model.ThrottledError，不记录本次请求
func (s *Service) checkRate(ctx context.Context, actor model.Actor, action string) error {
	d, err := s.limiter.Check(ctx, ratelimit.Actor{
		UserID:       actor.UserID,
		AnonymousKey: actor.AnonymousKey,
		Roles:        actor.Roles,
	}, action)
	if errors.Is(err, ratelimit.ErrMissingActorKey) {
		return model.NewValidationError("session", "anonymous requests need a session")
	}
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &model.ThrottledError{Action: action, RetryAfter: d.RetryAfter}
	}
	return nil
}

// normalizeBody 去除首尾空白并校验长度（按字符计）
func (s *Service) normalizeBody(content string) (string, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return "", model.NewValidationError("content", "comment cannot be empty")
	}
	if n := utf8.RuneCountInString(body); n > s.settings.MaxCommentLength {
		return "", model.NewValidationError("content",
			fmt.Sprintf("comment too long: %d characters, at most %d allowed", n, s.settings.MaxCommentLength))
	}
	return body, nil
}

// canSee 非公开评论只有审核员和作者本人可见
func (s *Service) canSee(actor model.Actor, c *model.Comment) bool {
	if c.IsPublic() {
		return true
	}
	if s.settings.IsModerator(actor) {
		return true
	}
	return !c.IsRemoved && actor.UserID != 0 && actor.UserID == c.UserID
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, model.ErrNotFound)
}

// audit 追加审核日志；写入失败只记录错误，不影响主流程
func (s *Service) audit(ctx context.Context, entry *model.ModerationLog) {
	entry.ID = s.ids.Generate()
	entry.CreatedAt = s.clock.Now()
	if err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.Error(ctx, "Failed to append moderation log",
			logger.F("action", entry.Action),
			logger.F("subjectType", entry.SubjectType),
			logger.F("subjectID", entry.SubjectID),
			logger.F("error", err.Error()))
	}
}

func (s *Service) auditComment(ctx context.Context, action string, c *model.Comment, actorID int64, oldStatus, detail string) {
	s.audit(ctx, &model.ModerationLog{
		Action:      action,
		SubjectType: model.SubjectComment,
		SubjectID:   dao.SubjectID(c.ID),
		ActorID:     actorID,
		OldStatus:   oldStatus,
		NewStatus:   c.Status,
		Detail:      detail,
	})
}

// emit 投递通知事件，只有格式错误才会返回错误，这里记录后忽略
func (s *Service) emit(ctx context.Context, kind notify.Kind, payload map[string]interface{}) {
	if err := s.emitter.Emit(kind, payload); err != nil {
		s.logger.Error(ctx, "Failed to emit notification event",
			logger.F("kind", string(kind)),
			logger.F("error", err.Error()))
	}
}

// 事件里的ID用十进制字符串，structpb 的数字是 float64，大ID会丢精度
func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func commentPayload(c *model.Comment) map[string]interface{} {
	return map[string]interface{}{
		"comment_id":  idString(c.ID),
		"object_type": c.ObjectType,
		"object_id":   idString(c.ObjectID),
		"user_id":     idString(c.UserID),
		"user_name":   c.UserName,
		"parent_id":   idString(c.ParentID),
		"root_id":     idString(c.RootID),
		"depth":       c.Depth,
		"status":      c.Status,
		"flag_count":  c.FlagCount,
		"excerpt":     excerpt(c.Content, 140),
	}
}

func banPayload(b *model.Ban) map[string]interface{} {
	p := map[string]interface{}{
		"ban_id":    idString(b.ID),
		"user_id":   idString(b.UserID),
		"banned_by": idString(b.BannedBy),
		"reason":    b.Reason,
		"permanent": b.IsPermanent(),
	}
	if b.ExpiresAt != nil {
		p["expires_at"] = b.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if b.LiftedAt != nil {
		p["lifted_by"] = idString(b.LiftedBy)
		p["lifted_at"] = b.LiftedAt.UTC().Format(time.RFC3339)
	}
	return p
}

func excerpt(body string, n int) string {
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	r := []rune(body)
	return string(r[:n]) + "…"
}

// alert 审核员提醒，每次状态变化最多一条
func (s *Service) alert(ctx context.Context, c *model.Comment, reason string, extra map[string]interface{}) {
	p := commentPayload(c)
	p["reason"] = reason
	for k, v := range extra {
		p[k] = v
	}
	s.emit(ctx, notify.KindModeratorAlert, p)
}

// bannedBySystem 自动封禁签发后的日志与事件
func (s *Service) bannedBySystem(ctx context.Context, ban *model.Ban, trigger banning.Trigger) {
	s.logger.Info(ctx, "User auto-banned",
		logger.F("userID", ban.UserID),
		logger.F("trigger", trigger.String()),
		logger.F("reason", ban.Reason))
	s.audit(ctx, &model.ModerationLog{
		Action:      model.LogActionBanned,
		SubjectType: model.SubjectUser,
		SubjectID:   dao.SubjectID(ban.UserID),
		ActorID:     model.SystemActorID,
		Detail:      ban.Reason,
	})
	s.emit(ctx, notify.KindUserBanned, banPayload(ban))
}

// evaluateBan 评估失败不影响已经完成的审核或举报
func (s *Service) evaluateBan(ctx context.Context, userID int64, trigger banning.Trigger) {
	ban, err := s.bans.Evaluate(ctx, userID, trigger)
	if err != nil {
		s.logger.Error(ctx, "Failed to evaluate auto-ban",
			logger.F("userID", userID),
			logger.F("trigger", trigger.String()),
			logger.F("error", err.Error()))
		return
	}
	if ban != nil {
		s.bannedBySystem(ctx, ban, trigger)
	}
}

// RenderContent 按评论格式渲染正文
func RenderContent(c *model.Comment) string {
	return formatting.Render(c.Format, c.Content)
}
