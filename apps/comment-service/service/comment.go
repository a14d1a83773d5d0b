package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"goim-comment/apps/comment-service/internal/banning"
	"goim-comment/apps/comment-service/internal/classifier"
	"goim-comment/apps/comment-service/internal/flagging"
	"goim-comment/apps/comment-service/internal/formatting"
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/apps/comment-service/internal/thread"
	"goim-comment/apps/comment-service/model"
	tracecontext "goim-comment/pkg/context"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/ratelimit"
	"goim-comment/pkg/telemetry"
)

// CreateComment 创建评论：封禁检查 → 限流 → 校验 → 内容分类 → 挂到评论树 → 落库 → 审核日志 → 事件
func (s *Service) CreateComment(ctx context.Context, actor model.Actor, params *model.CreateCommentParams) (*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.CreateComment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.object_id", params.ObjectID),
		attribute.String("comment.object_type", params.ObjectType),
		attribute.Int64("comment.user_id", actor.UserID),
		attribute.Int64("comment.parent_id", params.ParentID),
		attribute.Int("comment.content_length", len(params.Content)),
	)
	ctx = tracecontext.WithActor(ctx, actor.UserID, actor.AnonymousKey)

	comment, err := s.createComment(ctx, actor, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create comment")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("comment.id", comment.ID),
		attribute.String("comment.status", comment.Status),
	)
	span.SetStatus(codes.Ok, "comment created successfully")
	return comment, nil
}

func (s *Service) createComment(ctx context.Context, actor model.Actor, params *model.CreateCommentParams) (*model.Comment, error) {
	if actor.IsAnonymous() && !s.settings.AllowAnonymous {
		return nil, fmt.Errorf("%w: sign in to comment", model.ErrForbidden)
	}
	if err := s.bans.Check(ctx, actor.UserID); err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, actor, ratelimit.ActionComment); err != nil {
		return nil, err
	}

	body, err := s.validateCreate(actor, params)
	if err != nil {
		return nil, err
	}

	var parent *model.Comment
	if params.ParentID > 0 {
		parent, err = s.store.GetComment(ctx, params.ParentID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewValidationError("parent_id", "parent comment does not exist")
		}
		if err != nil {
			return nil, err
		}
	}

	result := s.classifier.Classify(ctx, body)
	if result.Action == classifier.ActionDelete {
		reason := rejectReason(result)
		s.logger.Info(ctx, "Comment rejected by classifier",
			logger.F("objectType", params.ObjectType),
			logger.F("objectID", params.ObjectID),
			logger.F("reason", reason))
		return nil, &model.ContentRejectedError{Reason: reason}
	}

	id := s.ids.Generate()
	placement, err := s.threads.Attach(thread.Target{ObjectType: params.ObjectType, ObjectID: params.ObjectID}, parent, id)
	if err != nil {
		return nil, err
	}

	status, err := s.initialStatus(ctx, actor, result)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	format := params.Format
	if format == "" {
		format = model.FormatPlain
	}
	comment := &model.Comment{
		ID:         id,
		ObjectID:   params.ObjectID,
		ObjectType: params.ObjectType,
		UserID:     actor.UserID,
		UserName:   params.UserName,
		UserEmail:  params.UserEmail,
		Content:    result.Body(body),
		Format:     format,
		ParentID:   params.ParentID,
		RootID:     placement.RootID,
		Depth:      placement.Depth,
		Status:     status,
		IPAddress:  params.IPAddress,
		UserAgent:  params.UserAgent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	s.auditComment(ctx, model.LogActionCreated, comment, actor.UserID, "", classificationDetail(result))
	if comment.IsPublic() {
		s.counts.Invalidate(comment.ObjectType, comment.ObjectID)
	}

	s.logger.Info(ctx, "Comment created successfully",
		logger.F("commentID", comment.ID),
		logger.F("objectType", comment.ObjectType),
		logger.F("objectID", comment.ObjectID),
		logger.F("depth", comment.Depth),
		logger.F("status", comment.Status))

	s.emit(ctx, notify.KindCommentCreated, commentPayload(comment))
	if parent != nil {
		p := commentPayload(comment)
		p["parent_user_id"] = idString(parent.UserID)
		s.emit(ctx, notify.KindCommentReply, p)
	}

	switch {
	case result.Action == classifier.ActionFlag:
		s.systemFlag(ctx, comment, result)
	case !comment.IsPublic():
		s.alert(ctx, comment, "pending_review", map[string]interface{}{
			"classifier_action": result.Action,
		})
	}
	return comment, nil
}

func (s *Service) validateCreate(actor model.Actor, params *model.CreateCommentParams) (string, error) {
	if params.ObjectID <= 0 {
		return "", model.NewValidationError("object_id", "must be positive")
	}
	if !s.settings.IsCommentable(params.ObjectType) {
		return "", model.NewValidationError("object_type", fmt.Sprintf("%q does not accept comments", params.ObjectType))
	}
	if params.ParentID < 0 {
		return "", model.NewValidationError("parent_id", "must not be negative")
	}
	if params.Format != "" && !formatting.ValidFormat(params.Format) {
		return "", model.NewValidationError("format", "must be one of plain, markdown, html")
	}
	if actor.IsAnonymous() && params.UserName == "" {
		return "", model.NewValidationError("user_name", "anonymous comments need a display name")
	}
	return s.normalizeBody(params.Content)
}

// initialStatus 分类结果 hide 时待审核；否则需要人工审核且作者没有免审资格时待审核
func (s *Service) initialStatus(ctx context.Context, actor model.Actor, result classifier.Result) (string, error) {
	if result.Action == classifier.ActionHide {
		return model.CommentStatusPending, nil
	}
	if !s.settings.ModeratorRequired {
		return model.CommentStatusPublic, nil
	}
	ok, err := s.autoApproved(ctx, actor)
	if err != nil {
		return "", err
	}
	if ok {
		return model.CommentStatusPublic, nil
	}
	return model.CommentStatusPending, nil
}

func (s *Service) autoApproved(ctx context.Context, actor model.Actor) (bool, error) {
	if actor.HasAnyRole(s.settings.AutoApproveRoles) {
		return true, nil
	}
	if s.settings.AutoApproveAfterApproved <= 0 || actor.IsAnonymous() {
		return false, nil
	}
	n, err := s.store.CountApprovedComments(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return n >= int64(s.settings.AutoApproveAfterApproved), nil
}

// systemFlag 分类结果为 flag 时以系统身份举报，每条评论最多一次
func (s *Service) systemFlag(ctx context.Context, c *model.Comment, result classifier.Result) {
	category := model.FlagCategoryInappropriate
	if result.IsSpam {
		category = model.FlagCategorySpam
	}
	flag := &model.Flag{
		UserID:   model.SystemActorID,
		Category: category,
		Reason:   rejectReason(result),
	}
	outcome, err := s.flags.RecordFlag(ctx, c, flag)
	if errors.Is(err, model.ErrAlreadyFlagged) {
		return
	}
	if err != nil {
		s.logger.Error(ctx, "Failed to record system flag",
			logger.F("commentID", c.ID),
			logger.F("error", err.Error()))
		return
	}
	c.FlagCount = outcome.NewFlagCount
	s.auditComment(ctx, model.LogActionFlagged, c, model.SystemActorID, c.Status, flag.Reason)
	s.applyFlagOutcome(ctx, c, outcome, "classifier_flag", true)
	if category == model.FlagCategorySpam {
		s.evaluateBan(ctx, c.UserID, banning.TriggerSpamFlag)
	}
}

func rejectReason(r classifier.Result) string {
	if r.IsSpam && r.SpamReason != "" {
		return r.SpamReason
	}
	if r.IsProfane {
		return "contains prohibited language"
	}
	return "content not allowed"
}

func classificationDetail(r classifier.Result) string {
	switch {
	case r.Action == classifier.ActionNone:
		return ""
	case r.IsSpam:
		return fmt.Sprintf("classifier action %s: %s", r.Action, r.SpamReason)
	default:
		return fmt.Sprintf("classifier action %s: profanity", r.Action)
	}
}

// UpdateComment 作者在编辑窗口内修改评论，重新分类并按配置记录历史
func (s *Service) UpdateComment(ctx context.Context, actor model.Actor, params *model.UpdateCommentParams) (*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.UpdateComment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.id", params.CommentID),
		attribute.Int64("comment.user_id", actor.UserID),
	)
	ctx = tracecontext.WithActor(ctx, actor.UserID, actor.AnonymousKey)

	comment, err := s.updateComment(ctx, actor, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update comment")
		return nil, err
	}
	span.SetStatus(codes.Ok, "comment updated successfully")
	return comment, nil
}

func (s *Service) updateComment(ctx context.Context, actor model.Actor, params *model.UpdateCommentParams) (*model.Comment, error) {
	if !s.settings.AllowEditing {
		return nil, fmt.Errorf("%w: editing is disabled", model.ErrForbidden)
	}
	comment, err := s.store.GetComment(ctx, params.CommentID)
	if err != nil {
		return nil, err
	}
	if comment.IsRemoved {
		return nil, notFound("comment", comment.ID)
	}
	if actor.IsAnonymous() || actor.UserID != comment.UserID {
		return nil, fmt.Errorf("%w: only the author can edit this comment", model.ErrForbidden)
	}
	if err := s.bans.Check(ctx, actor.UserID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if w := s.settings.EditWindow; w > 0 && now.Sub(comment.CreatedAt) > w {
		return nil, model.ErrEditWindowClosed
	}

	body, err := s.normalizeBody(params.Content)
	if err != nil {
		return nil, err
	}
	result := s.classifier.Classify(ctx, body)
	if result.Action == classifier.ActionDelete {
		return nil, &model.ContentRejectedError{Reason: rejectReason(result)}
	}

	if s.settings.TrackEditHistory {
		rev := &model.CommentRevision{
			ID:        s.ids.Generate(),
			CommentID: comment.ID,
			Content:   comment.Content,
			EditedBy:  actor.UserID,
			CreatedAt: now,
		}
		if err := s.store.CreateRevision(ctx, rev); err != nil {
			return nil, fmt.Errorf("failed to record revision: %w", err)
		}
	}

	// 编辑只写内容相关的列，状态只通过条件更新改变，避免覆盖并发的自动隐藏或删除
	oldStatus := comment.Status
	content, edited := result.Body(body), true
	patch := &model.CommentPatch{Content: &content, IsEdited: &edited, EditedAt: &now, UpdatedAt: now}
	if err := s.store.PatchComment(ctx, comment.ID, patch); err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}

	held := false
	if result.Action == classifier.ActionHide {
		held, err = s.store.TransitionStatus(ctx, comment.ID,
			[]string{model.CommentStatusPublic}, model.CommentStatusPending, now)
		if err != nil {
			return nil, fmt.Errorf("failed to hold edited comment: %w", err)
		}
	}
	if comment, err = s.store.GetComment(ctx, comment.ID); err != nil {
		return nil, err
	}
	s.auditComment(ctx, model.LogActionEdited, comment, actor.UserID, oldStatus, classificationDetail(result))

	s.logger.Info(ctx, "Comment updated successfully",
		logger.F("commentID", comment.ID),
		logger.F("status", comment.Status))

	if held {
		s.counts.Invalidate(comment.ObjectType, comment.ObjectID)
		s.alert(ctx, comment, "pending_review", map[string]interface{}{
			"classifier_action": result.Action,
			"edited":            true,
		})
	} else if result.Action == classifier.ActionFlag {
		s.systemFlag(ctx, comment, result)
	}
	return comment, nil
}

// DeleteComment 作者或审核员软删除评论，重复删除不报错
func (s *Service) DeleteComment(ctx context.Context, actor model.Actor, commentID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.DeleteComment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.id", commentID),
		attribute.Int64("comment.user_id", actor.UserID),
	)

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "comment not found")
		return err
	}

	isModerator := s.settings.IsModerator(actor)
	isAuthor := !actor.IsAnonymous() && actor.UserID == comment.UserID
	if !isAuthor && !isModerator {
		span.SetStatus(codes.Error, "permission denied")
		return fmt.Errorf("%w: only the author or a moderator can delete this comment", model.ErrForbidden)
	}
	if comment.IsRemoved {
		return nil
	}
	if isModerator && !isAuthor {
		_, err := s.ModerateComment(ctx, actor, &model.ModerateCommentParams{
			CommentID: commentID,
			Action:    model.ModerationRemove,
		})
		return err
	}

	oldStatus := comment.Status
	removed, status := true, model.CommentStatusRemoved
	patch := &model.CommentPatch{Status: &status, IsRemoved: &removed, UpdatedAt: s.clock.Now()}
	if err := s.store.PatchComment(ctx, commentID, patch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete comment")
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	patch.Apply(comment)
	s.auditComment(ctx, model.LogActionRemoved, comment, actor.UserID, oldStatus, "removed by author")
	s.counts.Invalidate(comment.ObjectType, comment.ObjectID)

	s.logger.Info(ctx, "Comment deleted successfully",
		logger.F("commentID", commentID),
		logger.F("userID", actor.UserID))
	span.SetStatus(codes.Ok, "comment deleted successfully")
	return nil
}

// GetComment 获取评论，非公开评论只对作者和审核员可见
func (s *Service) GetComment(ctx context.Context, actor model.Actor, commentID int64) (*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.GetComment")
	defer span.End()
	span.SetAttributes(attribute.Int64("comment.id", commentID))

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !s.canSee(actor, comment) {
		return nil, notFound("comment", commentID)
	}
	return comment, nil
}

// ListComments 对象下的评论列表，审核员可以带上非公开评论
func (s *Service) ListComments(ctx context.Context, actor model.Actor, params *model.ListCommentsParams) ([]*model.Comment, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.ListComments")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.object_id", params.ObjectID),
		attribute.String("comment.object_type", params.ObjectType),
	)

	if !s.settings.IsCommentable(params.ObjectType) {
		return nil, 0, model.NewValidationError("object_type", fmt.Sprintf("%q does not accept comments", params.ObjectType))
	}
	q := *params
	q.Normalize()
	q.Sort = s.settings.ResolveSort(q.Sort)
	if !s.settings.IsModerator(actor) {
		q.IncludeHidden = false
	}

	comments, total, err := s.store.ListComments(ctx, &q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list comments")
		return nil, 0, fmt.Errorf("failed to list comments: %w", err)
	}
	span.SetAttributes(attribute.Int64("comment.total", total))
	return comments, total, nil
}

// GetThread 按根评论取整棵评论树，子评论按创建时间、ID 排序
func (s *Service) GetThread(ctx context.Context, actor model.Actor, rootID int64) ([]*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.GetThread")
	defer span.End()
	span.SetAttributes(attribute.Int64("comment.root_id", rootID))

	root, err := s.store.GetComment(ctx, rootID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if root.RootID != root.ID {
		rootID = root.RootID
	}

	all, err := s.store.FindByThreadRoot(ctx, rootID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load thread")
		return nil, fmt.Errorf("failed to load thread %d: %w", rootID, err)
	}
	visible := all[:0]
	for _, c := range all {
		if s.canSee(actor, c) {
			visible = append(visible, c)
		}
	}
	if len(visible) == 0 {
		return nil, notFound("thread", rootID)
	}
	span.SetAttributes(attribute.Int("comment.thread_size", len(visible)))
	return thread.BuildTree(visible), nil
}

// CountComments 对象下的公开评论数，走本地缓存
func (s *Service) CountComments(ctx context.Context, objectType string, objectID int64) (int64, error) {
	if !s.settings.IsCommentable(objectType) {
		return 0, model.NewValidationError("object_type", fmt.Sprintf("%q does not accept comments", objectType))
	}
	return s.counts.Count(ctx, objectType, objectID)
}

// ListRevisions 评论编辑历史，作者和审核员可见
func (s *Service) ListRevisions(ctx context.Context, actor model.Actor, commentID int64) ([]*model.CommentRevision, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if !s.settings.IsModerator(actor) && (actor.IsAnonymous() || actor.UserID != comment.UserID) {
		return nil, fmt.Errorf("%w: only the author or a moderator can see edit history", model.ErrForbidden)
	}
	return s.store.ListRevisions(ctx, commentID)
}

// applyFlagOutcome 阈值动作的审核日志、缓存失效与审核员提醒，一次举报最多一条提醒
func (s *Service) applyFlagOutcome(ctx context.Context, c *model.Comment, outcome flagging.Outcome, source string, alwaysAlert bool) {
	if len(outcome.Actions) == 0 && !alwaysAlert {
		return
	}
	oldStatus := c.Status
	actions := make([]interface{}, 0, len(outcome.Actions))
	for _, a := range outcome.Actions {
		actions = append(actions, string(a))
		switch a {
		case flagging.ActionAutoHide:
			c.Status = model.CommentStatusHidden
			s.auditComment(ctx, model.LogActionAutoHidden, c, model.SystemActorID, oldStatus,
				fmt.Sprintf("flag count reached %d", outcome.NewFlagCount))
		case flagging.ActionAutoDelete:
			c.Status = model.CommentStatusRemoved
			c.IsRemoved = true
			s.auditComment(ctx, model.LogActionAutoDeleted, c, model.SystemActorID, oldStatus,
				fmt.Sprintf("flag count reached %d", outcome.NewFlagCount))
		}
	}
	if c.Status != oldStatus {
		s.counts.Invalidate(c.ObjectType, c.ObjectID)
		s.logger.Info(ctx, "Comment auto-moderated by flags",
			logger.F("commentID", c.ID),
			logger.F("flagCount", outcome.NewFlagCount),
			logger.F("status", c.Status))
	}
	s.alert(ctx, c, source, map[string]interface{}{
		"actions": actions,
	})
}
