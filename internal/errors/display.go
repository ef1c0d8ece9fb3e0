package errors

import (
	"fmt"
	"strings"
)

// DisplayErrorSummary provides a brief summary of the error for logs
func DisplayErrorSummary(err error) string {
	if pErr, ok := As(err); ok {
		return fmt.Sprintf("%s-%s: %s", pErr.Category, pErr.Code, pErr.Message)
	}

	errStr := err.Error()
	if len(errStr) > 100 {
		return errStr[:97] + "..."
	}
	return errStr
}

// FormatForCLI formats an error for command-line display with proper spacing
func FormatForCLI(err error) string {
	pErr, ok := As(err)
	if !ok {
		return fmt.Sprintf("\nError: %v\n", err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("\nError [%s-%s]\n", pErr.Category, pErr.Code))
	sb.WriteString(fmt.Sprintf("  %s\n", pErr.Message))

	if pErr.Operation != "" {
		sb.WriteString(fmt.Sprintf("\nFailed Operation: %s\n", pErr.Operation))
	}

	if len(pErr.Context) > 0 {
		sb.WriteString("\nDetails:\n")
		for _, key := range pErr.contextKeys() {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", key, pErr.Context[key]))
		}
	}

	if len(pErr.Troubleshooting) > 0 {
		sb.WriteString("\nHow to resolve:\n")
		for i, step := range pErr.Troubleshooting {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
	}

	if pErr.OriginalError != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", pErr.OriginalError))
	}

	return sb.String()
}

// GetErrorCode extracts the error code for reporting
func GetErrorCode(err error) string {
	if pErr, ok := As(err); ok {
		return fmt.Sprintf("%s-%s", pErr.Category, pErr.Code)
	}
	return "UNKNOWN"
}
