package autherr

import "strings"

// DefaultLanguage is used when a requested language has no catalog.
const DefaultLanguage = "en"

var catalogs = map[string]map[Code]string{
	"en": {
		CodeInvalidUserPassword:  "The username or password you entered is incorrect.",
		CodeBlockedUser:          "Your account has been disabled. Contact an administrator.",
		CodeTooManyAttempts:      "Too many failed attempts. Your account is temporarily locked.",
		CodeExpiredToken:         "Your session has expired. Please sign in again.",
		CodeInvalidToken:         "Your session is no longer valid. Please sign in again.",
		CodeInvalidConfiguration: "Sign-in is not configured correctly.",
		CodeNetworkError:         "The sign-in service could not be reached.",
		CodeTimeout:              "The sign-in service took too long to respond.",
		CodeUnknown:              "Something went wrong. Please try again.",
	},
	"es": {
		CodeInvalidUserPassword:  "El usuario o la contraseña no son correctos.",
		CodeBlockedUser:          "Tu cuenta ha sido deshabilitada. Contacta con un administrador.",
		CodeTooManyAttempts:      "Demasiados intentos fallidos. Tu cuenta está bloqueada temporalmente.",
		CodeExpiredToken:         "Tu sesión ha caducado. Vuelve a iniciar sesión.",
		CodeInvalidToken:         "Tu sesión ya no es válida. Vuelve a iniciar sesión.",
		CodeInvalidConfiguration: "El inicio de sesión no está configurado correctamente.",
		CodeNetworkError:         "No se pudo contactar con el servicio de inicio de sesión.",
		CodeTimeout:              "El servicio de inicio de sesión tardó demasiado en responder.",
		CodeUnknown:              "Algo salió mal. Inténtalo de nuevo.",
	},
}

// Message returns the human-readable message for code in lang. Languages may be given
// as Accept-Language style tags ("es-ES"); unknown languages fall back to English and
// unknown codes to the UNKNOWN_ERROR message.
func Message(code Code, lang string) string {
	catalog, ok := catalogs[baseLanguage(lang)]
	if !ok {
		catalog = catalogs[DefaultLanguage]
	}
	if msg, ok := catalog[code]; ok {
		return msg
	}
	return catalog[CodeUnknown]
}

func baseLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}
