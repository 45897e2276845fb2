package extractor

import (
	"fmt"
	"time"

	"github.com/ternarybob/fleetsync/internal/models"
)

// ElementNotFoundError means every locator strategy in a fallback chain
// failed for a step, usually because the portal shipped a UI change
type ElementNotFoundError struct {
	Dataset models.DatasetType
	Step    string
	Tried   []models.Locator
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found for %s step %q after %d locator strategies", e.Dataset, e.Step, len(e.Tried))
}

// DownloadTimeoutError means the export click happened but no completed
// download arrived within the step budget
type DownloadTimeoutError struct {
	Dataset models.DatasetType
	Elapsed time.Duration
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download for %s did not complete within %s", e.Dataset, e.Elapsed)
}

// DateFormatError means no configured date format was accepted by the
// portal's date controls
type DateFormatError struct {
	Dataset models.DatasetType
	Tried   []string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("no date format accepted for %s, tried %v", e.Dataset, e.Tried)
}
