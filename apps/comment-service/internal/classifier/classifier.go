// Package classifier 垃圾评论与敏感词检测
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"goim-comment/pkg/logger"
)

// 检测命中后的处理动作
const (
	ActionNone   = ""
	ActionCensor = "censor"
	ActionFlag   = "flag"
	ActionHide   = "hide"
	ActionDelete = "delete"
)

const maskRune = '*'

var actionRank = map[string]int{
	ActionNone:   0,
	ActionCensor: 1,
	ActionFlag:   2,
	ActionHide:   3,
	ActionDelete: 4,
}

// ValidAction 是否合法动作
func ValidAction(action string) bool {
	_, ok := actionRank[action]
	return ok && action != ActionNone
}

// Stricter 返回 delete > hide > flag > censor 中更严格的一个
func Stricter(a, b string) string {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// Config 分类器配置
type Config struct {
	SpamWords       []string
	SpamAction      string
	ProfanityWords  []string
	ProfanityAction string
	// DetectorTimeout 单个外部检测器的超时，0 表示只受调用方 ctx 控制
	DetectorTimeout time.Duration
}

// Result 分类结果
type Result struct {
	IsSpam       bool
	SpamReason   string
	IsProfane    bool
	ProfaneWords []string
	// CensoredBody 仅当有 censor 动作命中且最终动作不是 delete 时非空
	CensoredBody string
	Action       string
}

// Censored 是否产生了打码后的正文
func (r Result) Censored() bool {
	return r.CensoredBody != ""
}

// Body 最终应保存的正文
func (r Result) Body(original string) string {
	if r.Censored() {
		return r.CensoredBody
	}
	return original
}

// Classifier 内容分类器，可并发使用
type Classifier struct {
	spamWords       [][]rune
	spamAction      string
	profanityWords  [][]rune
	profanityAction string
	detectorTimeout time.Duration
	detectors       []Detector
	logger          logger.Logger
}

// New 创建分类器
func New(cfg Config, log logger.Logger, detectors ...Detector) (*Classifier, error) {
	if !ValidAction(cfg.SpamAction) {
		return nil, fmt.Errorf("invalid spam action %q", cfg.SpamAction)
	}
	if !ValidAction(cfg.ProfanityAction) {
		return nil, fmt.Errorf("invalid profanity action %q", cfg.ProfanityAction)
	}
	return &Classifier{
		spamWords:       lowerWords(cfg.SpamWords),
		spamAction:      cfg.SpamAction,
		profanityWords:  lowerWords(cfg.ProfanityWords),
		profanityAction: cfg.ProfanityAction,
		detectorTimeout: cfg.DetectorTimeout,
		detectors:       detectors,
		logger:          log,
	}, nil
}

// Classify 对正文做垃圾与敏感词检测。外部检测器失败不影响结果
func (c *Classifier) Classify(ctx context.Context, body string) Result {
	var res Result
	lowered := lowerRunes(body)
	mask := make([]bool, len(lowered))
	masked := false

	// 外部检测器优先
	for i, d := range c.detectors {
		v, ok := c.runDetector(ctx, i, d, body)
		if ok && v.Spam {
			res.IsSpam = true
			res.SpamReason = v.Reason
			if res.SpamReason == "" {
				res.SpamReason = "flagged by spam detector"
			}
			break
		}
	}

	spamHits := findAll(lowered, c.spamWords, mask, c.spamAction == ActionCensor)
	if len(spamHits) > 0 {
		if !res.IsSpam {
			res.IsSpam = true
			res.SpamReason = "contains spam keyword: " + spamHits[0]
		}
		masked = masked || c.spamAction == ActionCensor
	}
	if res.IsSpam {
		res.Action = Stricter(res.Action, c.spamAction)
	}

	profane := findAll(lowered, c.profanityWords, mask, c.profanityAction == ActionCensor)
	if len(profane) > 0 {
		res.IsProfane = true
		res.ProfaneWords = profane
		res.Action = Stricter(res.Action, c.profanityAction)
		masked = masked || c.profanityAction == ActionCensor
	}

	if masked && res.Action != ActionDelete {
		res.CensoredBody = applyMask(body, mask)
	}
	return res
}

func (c *Classifier) runDetector(ctx context.Context, idx int, d Detector, body string) (v Verdict, ok bool) {
	if c.detectorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.detectorTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "Spam detector panicked, treating as no signal",
				logger.F("detector", idx), logger.F("panic", fmt.Sprint(r)))
			v, ok = Verdict{}, false
		}
	}()

	v, err := d.Detect(ctx, body)
	if err != nil {
		c.logger.Warn(ctx, "Spam detector unavailable, treating as no signal",
			logger.F("detector", idx), logger.F("error", err.Error()))
		return Verdict{}, false
	}
	return v, true
}

// Censor 按词表打码，每个命中字符替换为 *，长度不变
func Censor(body string, words []string) string {
	lowered := lowerRunes(body)
	mask := make([]bool, len(lowered))
	if len(findAll(lowered, lowerWords(words), mask, true)) == 0 {
		return body
	}
	return applyMask(body, mask)
}

// findAll 返回命中的词（原配置小写形式），mark 为 true 时在 mask 上标记所有命中位置
func findAll(text []rune, words [][]rune, mask []bool, mark bool) []string {
	var hits []string
	for _, w := range words {
		found := false
		for i := 0; i+len(w) <= len(text); i++ {
			if !hasPrefix(text[i:], w) {
				continue
			}
			found = true
			if !mark {
				break
			}
			for j := i; j < i+len(w); j++ {
				mask[j] = true
			}
		}
		if found {
			hits = append(hits, string(w))
		}
	}
	return hits
}

func hasPrefix(text, prefix []rune) bool {
	for i, r := range prefix {
		if text[i] != r {
			return false
		}
	}
	return true
}

func applyMask(body string, mask []bool) string {
	runes := []rune(body)
	for i := range runes {
		if mask[i] {
			runes[i] = maskRune
		}
	}
	return string(runes)
}

// lowerRunes 逐字符转小写，保证与原文按 rune 一一对应
func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func lowerWords(words []string) [][]rune {
	out := make([][]rune, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		out = append(out, lowerRunes(w))
	}
	return out
}
