package domain

import "strings"

// complexityBaseBuckets buckets task-description keywords into base score
// contributions. Checked in this order; the first bucket whose keyword set
// intersects the description wins the base score.
var complexityBaseBuckets = []struct {
	score    float64
	keywords []string
}{
	{0.1, []string{"simple", "quick", "basic"}},
	{0.3, []string{"moderate", "standard"}},
	{0.6, []string{"complex", "advanced"}},
	{0.8, []string{"expert", "research", "analysis"}},
}

const complexityDefaultBase = 0.5

// domainAdders are non-exclusive additions layered on top of the base score.
var domainAdders = []struct {
	score    float64
	keywords []string
}{
	{0.2, []string{"code", "programming", "debug", "refactor"}},
	{0.1, []string{"image", "vision", "visual"}},
	{0.2, []string{"reasoning", "logic", "math"}},
	{0.1, []string{"creative", "story", "writing"}},
}

var visionKeywords = []string{"image", "vision", "visual"}
var codeKeywords = []string{"code", "programming", "debug", "refactor"}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// ComplexityScore computes the 0.0-1.0 complexity score for a task
// description and its context length. Context-length adders are mutually
// exclusive: only the strongest matching bracket applies (see DESIGN.md's
// Open Question resolution), never both +0.2 and +0.4.
func ComplexityScore(taskDescription string, contextLength int) float64 {
	score := complexityDefaultBase
	for _, bucket := range complexityBaseBuckets {
		if containsAny(taskDescription, bucket.keywords) {
			score = bucket.score
			break
		}
	}

	for _, adder := range domainAdders {
		if containsAny(taskDescription, adder.keywords) {
			score += adder.score
		}
	}

	switch {
	case contextLength > 50_000:
		score += 0.4
	case contextLength > 10_000:
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SelectionBucket is the model tier bucket derived from a complexity score.
type SelectionBucket string

const (
	BucketAlwaysOn SelectionBucket = "ALWAYS_ON"
	BucketFrequent SelectionBucket = "FREQUENT"
	BucketOnDemand SelectionBucket = "ON_DEMAND"
)

// SelectBucket maps a complexity score to the tier bucket to search first.
func SelectBucket(score float64) SelectionBucket {
	switch {
	case score < 0.3:
		return BucketAlwaysOn
	case score < 0.6:
		return BucketFrequent
	default:
		return BucketOnDemand
	}
}

// PrefersVision reports whether the task description mentions vision
// keywords, used to bias FREQUENT-bucket selection.
func PrefersVision(taskDescription string) bool {
	return containsAny(taskDescription, visionKeywords)
}

// PrefersCode reports whether the task description mentions coding
// keywords, used to bias ON_DEMAND-bucket selection.
func PrefersCode(taskDescription string) bool {
	return containsAny(taskDescription, codeKeywords)
}
