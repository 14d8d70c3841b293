package vision

import (
	"strings"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

const (
	promptQuestion = "What's in this image?"
	promptOpening  = "\nPlease begin your response with 'This is an image of' or 'This image illustrates'"
	promptContext  = "\nWhen responding, consider the image's context, including the Preceding Paragraph, Succeeding Paragraph, and Caption, if applicable."
)

// BuildPrompt assembles the user prompt for one image. Context lines are
// appended only for the pieces that were actually captured, so an image with
// no surrounding text gets the bare question.
func BuildPrompt(img *book.Image) string {
	var sb strings.Builder
	sb.WriteString(promptQuestion)
	sb.WriteString(promptOpening)

	hasContext := img.PrecedingParaText != "" || img.SucceedingParaText != "" || img.CaptionText != ""
	if hasContext {
		sb.WriteString(promptContext)
	}
	if img.PrecedingParaText != "" {
		sb.WriteString("\nPreceding Paragraph: ")
		sb.WriteString(img.PrecedingParaText)
	}
	if img.SucceedingParaText != "" {
		sb.WriteString("\nSucceeding Paragraph: ")
		sb.WriteString(img.SucceedingParaText)
	}
	if img.CaptionText != "" {
		sb.WriteString("\nCaption: ")
		sb.WriteString(img.CaptionText)
	}
	return sb.String()
}
