package transcript

import (
	"path/filepath"
	"strings"
)

const (
	maxInvoiceLen  = 100
	unknownInvoice = "unknown"
	fileExt        = ".txt"
	userDirPrefix  = "user_"
)

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "_",
)

// SanitizeInvoice makes an invoice number safe for use in a file name.
// Path separators and other reserved characters become underscores and the
// result is capped at 100 characters.
func SanitizeInvoice(invoice string) string {
	s := strings.TrimSpace(invoice)
	if s == "" {
		return unknownInvoice
	}
	s = unsafeChars.Replace(s)
	if r := []rune(s); len(r) > maxInvoiceLen {
		s = string(r[:maxInvoiceLen])
	}
	if s == "." || s == ".." {
		return unknownInvoice
	}
	return s
}

func sanitizeSegment(s string) string {
	s = unsafeChars.Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "anonymous"
	}
	return s
}

// UserDir is the directory holding one owner's transcripts.
func UserDir(root, userID string) string {
	return filepath.Join(root, userDirPrefix+sanitizeSegment(userID))
}

// FileName is "<sanitized invoice>_<call uuid>.txt".
func FileName(invoice, callUUID string) string {
	return SanitizeInvoice(invoice) + "_" + sanitizeSegment(callUUID) + fileExt
}

// Path derives the transcript location for a call. It is unique per
// call_uuid, so concurrent calls never share a file.
func Path(root, userID, invoice, callUUID string) string {
	return filepath.Join(UserDir(root, userID), FileName(invoice, callUUID))
}

// splitFileName recovers invoice and call uuid from a transcript file name.
// The uuid never contains '_', so the last underscore separates them.
func splitFileName(name string) (invoice, callUUID string, ok bool) {
	if !strings.HasSuffix(name, fileExt) {
		return "", "", false
	}
	base := strings.TrimSuffix(name, fileExt)
	i := strings.LastIndex(base, "_")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}
