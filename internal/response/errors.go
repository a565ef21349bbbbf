package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionActive   ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoActiveSession ErrCode = "NO_ACTIVE_SESSION"
	ErrNothingToResume ErrCode = "NOTHING_TO_RESUME"
	ErrPromptResolved  ErrCode = "PROMPT_RESOLVED"
	ErrSessionFinal    ErrCode = "SESSION_ALREADY_FINALIZED"
	ErrExamSetNotFound ErrCode = "EXAM_SET_NOT_FOUND"
	ErrPersistence     ErrCode = "PERSISTENCE_ERROR"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionActive:
		return "Masih ada sesi ujian yang sedang berjalan."
	case ErrNoActiveSession:
		return "Tidak ada sesi ujian yang sedang berjalan."
	case ErrNothingToResume:
		return "Tidak ada sesi ujian yang dapat dilanjutkan."
	case ErrPromptResolved:
		return "Pilihan ini sudah diputuskan sebelumnya."
	case ErrSessionFinal:
		return "Sesi ujian ini sudah diakhiri sebelumnya."
	case ErrExamSetNotFound:
		return "Paket soal tidak ditemukan."
	case ErrPersistence:
		return "Progres ujian gagal disimpan. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
