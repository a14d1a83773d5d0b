package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"goim-comment/apps/comment-service/dao"
	"goim-comment/apps/comment-service/internal/banning"
	"goim-comment/apps/comment-service/internal/flagging"
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/apps/comment-service/model"
	tracecontext "goim-comment/pkg/context"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/ratelimit"
	"goim-comment/pkg/telemetry"
)

// FlagComment 举报评论：封禁检查 → 限流 → 举报聚合 →（垃圾举报）封禁评估 → 审核日志 → 事件
func (s *Service) FlagComment(ctx context.Context, actor model.Actor, params *model.FlagCommentParams) (*model.Flag, flagging.Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.FlagComment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.id", params.CommentID),
		attribute.Int64("comment.user_id", actor.UserID),
		attribute.String("flag.category", params.Category),
	)
	ctx = tracecontext.WithActor(ctx, actor.UserID, actor.AnonymousKey)

	flag, outcome, err := s.flagComment(ctx, actor, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to flag comment")
		return nil, flagging.Outcome{}, err
	}
	span.SetAttributes(attribute.Int("comment.flag_count", outcome.NewFlagCount))
	span.SetStatus(codes.Ok, "comment flagged successfully")
	return flag, outcome, nil
}

func (s *Service) flagComment(ctx context.Context, actor model.Actor, params *model.FlagCommentParams) (*model.Flag, flagging.Outcome, error) {
	if actor.IsAnonymous() {
		return nil, flagging.Outcome{}, fmt.Errorf("%w: sign in to flag comments", model.ErrForbidden)
	}
	if err := s.bans.Check(ctx, actor.UserID); err != nil {
		return nil, flagging.Outcome{}, err
	}
	if err := s.checkRate(ctx, actor, ratelimit.ActionFlag); err != nil {
		return nil, flagging.Outcome{}, err
	}

	comment, err := s.store.GetComment(ctx, params.CommentID)
	if err != nil {
		return nil, flagging.Outcome{}, err
	}
	if comment.IsRemoved {
		return nil, flagging.Outcome{}, notFound("comment", comment.ID)
	}

	flag := &model.Flag{
		UserID:   actor.UserID,
		Category: params.Category,
		Reason:   params.Reason,
	}
	outcome, err := s.flags.RecordFlag(ctx, comment, flag)
	if err != nil {
		return nil, flagging.Outcome{}, err
	}
	comment.FlagCount = outcome.NewFlagCount

	s.auditComment(ctx, model.LogActionFlagged, comment, actor.UserID, comment.Status,
		fmt.Sprintf("%s: %s", flag.Category, flag.Reason))
	s.logger.Info(ctx, "Comment flagged",
		logger.F("commentID", comment.ID),
		logger.F("category", flag.Category),
		logger.F("flagCount", outcome.NewFlagCount))

	s.applyFlagOutcome(ctx, comment, outcome, "flag_threshold", false)

	if flag.Category == model.FlagCategorySpam {
		s.evaluateBan(ctx, comment.UserID, banning.TriggerSpamFlag)
	}
	return flag, outcome, nil
}

// ReviewFlag 审核员处理举报
func (s *Service) ReviewFlag(ctx context.Context, actor model.Actor, flagID, state string) (*model.Flag, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.ReviewFlag")
	defer span.End()
	span.SetAttributes(
		attribute.String("flag.id", flagID),
		attribute.String("flag.review_state", state),
	)

	if err := s.requireModerator(actor); err != nil {
		span.SetStatus(codes.Error, "permission denied")
		return nil, err
	}
	flag, err := s.flags.ReviewFlag(ctx, flagID, actor.UserID, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to review flag")
		return nil, err
	}
	s.audit(ctx, &model.ModerationLog{
		Action:      model.LogActionFlagReview,
		SubjectType: model.SubjectFlag,
		SubjectID:   flag.ID,
		ActorID:     actor.UserID,
		NewStatus:   flag.ReviewState,
		Detail:      fmt.Sprintf("comment %d", flag.CommentID),
	})
	s.logger.Info(ctx, "Flag reviewed",
		logger.F("flagID", flag.ID),
		logger.F("commentID", flag.CommentID),
		logger.F("state", flag.ReviewState))
	return flag, nil
}

// ListFlags 评论收到的举报，仅审核员可见
func (s *Service) ListFlags(ctx context.Context, actor model.Actor, commentID int64) ([]*model.Flag, error) {
	if err := s.requireModerator(actor); err != nil {
		return nil, err
	}
	if _, err := s.store.GetComment(ctx, commentID); err != nil {
		return nil, err
	}
	return s.store.ListFlags(ctx, commentID)
}

// ModerateComment 人工审核：approve / reject / remove。处理过的评论不再参与自动隐藏和自动删除
func (s *Service) ModerateComment(ctx context.Context, actor model.Actor, params *model.ModerateCommentParams) (*model.Comment, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.ModerateComment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("comment.id", params.CommentID),
		attribute.String("moderation.action", params.Action),
		attribute.Int64("moderation.actor_id", actor.UserID),
	)

	comment, err := s.moderateComment(ctx, actor, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to moderate comment")
		return nil, err
	}
	span.SetAttributes(attribute.String("comment.status", comment.Status))
	span.SetStatus(codes.Ok, "comment moderated successfully")
	return comment, nil
}

func (s *Service) moderateComment(ctx context.Context, actor model.Actor, params *model.ModerateCommentParams) (*model.Comment, error) {
	if err := s.requireModerator(actor); err != nil {
		return nil, err
	}
	comment, err := s.store.GetComment(ctx, params.CommentID)
	if err != nil {
		return nil, err
	}

	before := *comment
	var (
		logAction string
		kind      notify.Kind
	)
	switch params.Action {
	case model.ModerationApprove:
		comment.Status = model.CommentStatusPublic
		comment.IsRemoved = false
		comment.IsRejected = false
		logAction, kind = model.LogActionApproved, notify.KindCommentApproved
	case model.ModerationReject:
		comment.Status = model.CommentStatusHidden
		comment.IsRemoved = false
		comment.IsRejected = true
		logAction, kind = model.LogActionRejected, notify.KindCommentRejected
	case model.ModerationRemove:
		comment.Status = model.CommentStatusRemoved
		comment.IsRemoved = true
		logAction, kind = model.LogActionRemoved, notify.KindCommentRejected
	default:
		return nil, model.NewValidationError("action", "must be one of approve, reject, remove")
	}
	comment.Moderated = true

	changed := comment.Status != before.Status || comment.IsRejected != before.IsRejected ||
		comment.IsRemoved != before.IsRemoved || !before.Moderated
	if !changed {
		return comment, nil
	}

	comment.UpdatedAt = s.clock.Now()
	patch := &model.CommentPatch{
		Status:     &comment.Status,
		IsRemoved:  &comment.IsRemoved,
		IsRejected: &comment.IsRejected,
		Moderated:  &comment.Moderated,
		UpdatedAt:  comment.UpdatedAt,
	}
	if err := s.store.PatchComment(ctx, comment.ID, patch); err != nil {
		return nil, fmt.Errorf("failed to moderate comment: %w", err)
	}
	s.auditComment(ctx, logAction, comment, actor.UserID, before.Status, params.Reason)
	if comment.Status != before.Status {
		s.counts.Invalidate(comment.ObjectType, comment.ObjectID)
	}

	s.logger.Info(ctx, "Comment moderated",
		logger.F("commentID", comment.ID),
		logger.F("action", params.Action),
		logger.F("oldStatus", before.Status),
		logger.F("newStatus", comment.Status))

	p := commentPayload(comment)
	p["action"] = params.Action
	p["moderator_id"] = idString(actor.UserID)
	if params.Reason != "" {
		p["reason"] = params.Reason
	}
	s.emit(ctx, kind, p)

	if params.Action == model.ModerationReject && !before.IsRejected {
		s.evaluateBan(ctx, comment.UserID, banning.TriggerRejection)
	}
	return comment, nil
}

// ListPending 待审核评论
func (s *Service) ListPending(ctx context.Context, actor model.Actor, page, pageSize int32) ([]*model.Comment, int64, error) {
	if err := s.requireModerator(actor); err != nil {
		return nil, 0, err
	}
	p := model.ListCommentsParams{Page: page, PageSize: pageSize}
	p.Normalize()
	return s.store.ListPending(ctx, p.Page, p.PageSize)
}

// BanUser 人工封禁，已有生效封禁时原地更新
func (s *Service) BanUser(ctx context.Context, actor model.Actor, params *model.BanUserParams) (*model.Ban, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.BanUser")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ban.user_id", params.UserID),
		attribute.Int64("ban.actor_id", actor.UserID),
	)

	if err := s.requireModerator(actor); err != nil {
		span.SetStatus(codes.Error, "permission denied")
		return nil, err
	}
	if params.UserID == actor.UserID {
		return nil, model.NewValidationError("user_id", "moderators cannot ban themselves")
	}
	ban, err := s.bans.Ban(ctx, params.UserID, params.Reason, params.ExpiresAt, actor.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ban user")
		return nil, err
	}

	s.audit(ctx, &model.ModerationLog{
		Action:      model.LogActionBanned,
		SubjectType: model.SubjectUser,
		SubjectID:   dao.SubjectID(ban.UserID),
		ActorID:     actor.UserID,
		Detail:      banDetail(ban),
	})
	s.logger.Info(ctx, "User banned",
		logger.F("userID", ban.UserID),
		logger.F("actorID", actor.UserID),
		logger.F("permanent", ban.IsPermanent()))
	s.emit(ctx, notify.KindUserBanned, banPayload(ban))
	span.SetStatus(codes.Ok, "user banned successfully")
	return ban, nil
}

// UnbanUser 解除封禁，幂等；没有生效封禁时返回 nil, nil 且不产生日志和事件
func (s *Service) UnbanUser(ctx context.Context, actor model.Actor, userID int64) (*model.Ban, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.UnbanUser")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ban.user_id", userID),
		attribute.Int64("ban.actor_id", actor.UserID),
	)

	if err := s.requireModerator(actor); err != nil {
		span.SetStatus(codes.Error, "permission denied")
		return nil, err
	}
	ban, err := s.bans.Unban(ctx, userID, actor.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unban user")
		return nil, err
	}
	if ban == nil {
		return nil, nil
	}

	s.audit(ctx, &model.ModerationLog{
		Action:      model.LogActionUnbanned,
		SubjectType: model.SubjectUser,
		SubjectID:   dao.SubjectID(userID),
		ActorID:     actor.UserID,
		Detail:      ban.Reason,
	})
	s.logger.Info(ctx, "User unbanned",
		logger.F("userID", userID),
		logger.F("actorID", actor.UserID))
	s.emit(ctx, notify.KindUserUnbanned, banPayload(ban))
	return ban, nil
}

// GetBan 当前生效的封禁，本人或审核员可查
func (s *Service) GetBan(ctx context.Context, actor model.Actor, userID int64) (*model.Ban, error) {
	if actor.UserID != userID || actor.IsAnonymous() {
		if err := s.requireModerator(actor); err != nil {
			return nil, err
		}
	}
	return s.bans.ActiveBan(ctx, userID)
}

// ListBans 用户的封禁历史
func (s *Service) ListBans(ctx context.Context, actor model.Actor, userID int64) ([]*model.Ban, error) {
	if err := s.requireModerator(actor); err != nil {
		return nil, err
	}
	return s.store.ListBans(ctx, userID)
}

// ListLogs 审核日志
func (s *Service) ListLogs(ctx context.Context, actor model.Actor, subjectType, subjectID string) ([]*model.ModerationLog, error) {
	if err := s.requireModerator(actor); err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, subjectType, subjectID)
}

func banDetail(b *model.Ban) string {
	if b.ExpiresAt == nil {
		return "permanent: " + b.Reason
	}
	return fmt.Sprintf("until %s: %s", b.ExpiresAt.UTC().Format(time.RFC3339), b.Reason)
}

// Cleanup 物理删除匹配的评论。OlderThan 按移除时间清理，其余条件与之取或。
// 配置了归档时每批先归档再删除，归档失败立即停止。DryRun 只统计不删除
func (s *Service) Cleanup(ctx context.Context, params *model.CleanupParams) (*model.CleanupResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "comment.service.Cleanup")
	defer span.End()

	if params.OlderThan < 0 {
		return nil, model.NewValidationError("older_than", "must not be negative")
	}
	filter := model.CleanupFilter{
		NonPublic: params.NonPublic,
		Spam:      params.Spam,
		Flagged:   params.Flagged,
	}
	if params.OlderThan > 0 {
		filter.RemovedBefore = s.clock.Now().Add(-params.OlderThan)
		span.SetAttributes(attribute.String("cleanup.cutoff", filter.RemovedBefore.Format(time.RFC3339)))
	}
	if filter.Empty() {
		return nil, model.NewValidationError("older_than", "no cleanup rule selected")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	span.SetAttributes(
		attribute.Bool("cleanup.non_public", filter.NonPublic),
		attribute.Bool("cleanup.spam", filter.Spam),
		attribute.Bool("cleanup.flagged", filter.Flagged),
		attribute.Bool("cleanup.dry_run", params.DryRun),
	)

	res := &model.CleanupResult{}
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := s.store.FindForCleanup(ctx, filter, afterID, batchSize)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("failed to find comments to clean up: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID
		res.Matched += int64(len(batch))

		if params.DryRun {
			for _, c := range batch {
				if len(res.Sample) >= cleanupSampleSize {
					break
				}
				res.Sample = append(res.Sample, c)
			}
		} else {
			n, err := s.purge(ctx, batch)
			res.Deleted += n
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to purge comments")
				return res, err
			}
		}
		if len(batch) < batchSize {
			break
		}
	}

	s.logger.Info(ctx, "Comment cleanup finished",
		logger.F("matched", res.Matched),
		logger.F("deleted", res.Deleted),
		logger.F("dryRun", params.DryRun))
	span.SetAttributes(
		attribute.Int64("cleanup.matched", res.Matched),
		attribute.Int64("cleanup.deleted", res.Deleted),
	)
	return res, nil
}

const cleanupSampleSize = 10

func (s *Service) purge(ctx context.Context, batch []*model.Comment) (int64, error) {
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to archive comments: %w", err)
		}
	}
	ids := make([]int64, 0, len(batch))
	for _, c := range batch {
		ids = append(ids, c.ID)
	}
	n, err := s.store.DeleteComments(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete comments: %w", err)
	}
	for _, c := range batch {
		s.auditComment(ctx, model.LogActionPurged, c, model.SystemActorID, c.Status, "hard deleted by cleanup")
		s.counts.Invalidate(c.ObjectType, c.ObjectID)
	}
	return n, nil
}
