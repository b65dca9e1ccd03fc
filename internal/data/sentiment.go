package data

import (
	"fmt"
	"strings"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
)

// sentimentPrompt asks for a single label; the message is quoted to keep it from reading as instructions
const sentimentPrompt = "Classify the sentiment of the following customer message into " +
	"exactly one of: Positive, Neutral, Negative. " +
	"Reply with only the single word label. " +
	"If unclear or very short, reply Neutral.\n\n" +
	"Message: '''%s'''"

// Models only need one word
const sentimentMaxTokens = 10

// Trimmed replies shorter than this are Neutral without asking anyone
const minClassifiableLen = 3

func sentimentRequest(text string) string {
	return fmt.Sprintf(sentimentPrompt, text)
}

func tooShortToClassify(text string) bool {
	return len([]rune(strings.TrimSpace(text))) < minClassifiableLen
}

// parseSentimentLabel reads the first word of a model answer.
// Anything other than the three labels is malformed output.
func parseSentimentLabel(answer string) (domain.Sentiment, error) {
	fields := strings.Fields(answer)
	if len(fields) == 0 {
		return domain.SentimentNone, fmt.Errorf("malformed model output: empty answer")
	}
	sentiment, err := domain.ParseSentiment(fields[0])
	if err != nil || sentiment == domain.SentimentNone {
		return domain.SentimentNone, fmt.Errorf("malformed model output %q", answer)
	}
	return sentiment, nil
}
