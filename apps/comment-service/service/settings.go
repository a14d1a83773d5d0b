package service

import (
	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/config"
	"goim-comment/pkg/ratelimit"
)

// SettingsFromConfig 把配置文件里的评论选项转换成引擎使用的 Settings，只在启动时调用一次
func SettingsFromConfig(cc *config.CommentConfig) model.Settings {
	s := model.Settings{
		CommentableTypes: append([]string(nil), cc.CommentableTypes...),
		MaxCommentLength: cc.MaxCommentLength,

		AllowAnonymous:   cc.AllowAnonymous,
		AllowEditing:     cc.AllowEditing,
		EditWindow:       cc.EditWindow,
		TrackEditHistory: cc.TrackEditHistory,

		ModeratorRequired:        cc.ModeratorRequired,
		AutoApproveRoles:         append([]string(nil), cc.AutoApproveRoles...),
		AutoApproveAfterApproved: cc.AutoApproveAfterApproved,
		ModeratorRoles:           append([]string(nil), cc.ModeratorRoles...),

		SpamWords:       append([]string(nil), cc.Spam.Words...),
		SpamAction:      cc.Spam.Action,
		ProfanityWords:  append([]string(nil), cc.Profanity.Words...),
		ProfanityAction: cc.Profanity.Action,

		FlagNotifyThreshold: model.PositiveOrNil(cc.Flags.NotifyThreshold),
		AutoHideThreshold:   model.PositiveOrNil(cc.Flags.AutoHideThreshold),
		AutoDeleteThreshold: model.PositiveOrNil(cc.Flags.AutoDeleteThreshold),

		AutoBanAfterRejections: model.PositiveOrNil(cc.Ban.AfterRejections),
		AutoBanAfterSpamFlags:  model.PositiveOrNil(cc.Ban.AfterSpamFlags),
		DefaultBanDuration:     cc.Ban.DefaultDuration,
	}
	if cc.MaxCommentDepth >= 0 {
		s.MaxCommentDepth = model.IntPtr(cc.MaxCommentDepth)
	}
	for _, sort := range cc.AllowedSorts {
		if model.ValidSort(sort) {
			s.AllowedSorts = append(s.AllowedSorts, sort)
		}
	}
	s.DefaultSort = model.SortCreatedDesc
	if model.ValidSort(cc.DefaultSort) {
		s.DefaultSort = cc.DefaultSort
	}
	return s
}

// RateRulesFromConfig 评论、举报两类动作的限流规则，以及接口级规则
func RateRulesFromConfig(cc *config.CommentConfig, api *config.APIConfig) map[string][]ratelimit.Rule {
	rules := make(map[string][]ratelimit.Rule, len(cc.RateLimits)+2)
	for action, rs := range cc.RateLimits {
		for _, r := range rs {
			rules[action] = append(rules[action], ratelimit.Rule{Limit: r.Limit, Window: r.Window})
		}
	}
	if api != nil {
		if api.RateLimit.Limit > 0 {
			rules[ratelimit.ActionAPI] = append(rules[ratelimit.ActionAPI], ratelimit.Rule{Limit: api.RateLimit.Limit, Window: api.RateLimit.Window})
		}
		if api.AnonRateLimit.Limit > 0 {
			rules[ratelimit.ActionAPIAnonymous] = append(rules[ratelimit.ActionAPIAnonymous], ratelimit.Rule{Limit: api.AnonRateLimit.Limit, Window: api.AnonRateLimit.Window})
		}
		if api.Burst.Limit > 0 {
			burst := ratelimit.Rule{Limit: api.Burst.Limit, Window: api.Burst.Window}
			rules[ratelimit.ActionAPI] = append(rules[ratelimit.ActionAPI], burst)
			rules[ratelimit.ActionAPIAnonymous] = append(rules[ratelimit.ActionAPIAnonymous], burst)
		}
	}
	return rules
}
