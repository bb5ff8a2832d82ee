package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cbodonnell/gserver/pkg/log"
)

var _ AuthHandler = &FirebaseAuthHandler{}

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"
)

// FirebaseAuthHandler implements AuthHandler using Firebase Auth REST API
type FirebaseAuthHandler struct {
	apiKey             string
	identityToolkitURL string
	secureTokenURL     string
	client             *http.Client
}

type NewFirebaseAuthHandlerOptions struct {
	APIKey string
	// IdentityToolkitURL and SecureTokenURL default to the Google endpoints.
	IdentityToolkitURL string
	SecureTokenURL     string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// NewFirebaseAuthHandler creates a new instance of FirebaseAuthHandler
func NewFirebaseAuthHandler(opts NewFirebaseAuthHandlerOptions) *FirebaseAuthHandler {
	h := &FirebaseAuthHandler{
		apiKey:             opts.APIKey,
		identityToolkitURL: strings.TrimSuffix(opts.IdentityToolkitURL, "/"),
		secureTokenURL:     strings.TrimSuffix(opts.SecureTokenURL, "/"),
		client:             opts.Client,
	}
	if h.identityToolkitURL == "" {
		h.identityToolkitURL = DefaultIdentityToolkitURL
	}
	if h.secureTokenURL == "" {
		h.secureTokenURL = DefaultSecureTokenURL
	}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	return h
}

// ErrorResponseBody is the response body for an error
// https://firebase.google.com/docs/reference/rest/auth#section-error-format
type ErrorResponseBody struct {
	Error struct {
		Code    int                  `json:"code"`
		Message ErrorResponseMessage `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

type ErrorResponseMessage string

const (
	ErrorEmailExists             ErrorResponseMessage = "EMAIL_EXISTS"
	ErrorOperationNotAllowed     ErrorResponseMessage = "OPERATION_NOT_ALLOWED"
	ErrorTooManyAttempts         ErrorResponseMessage = "TOO_MANY_ATTEMPTS_TRY_LATER"
	ErrorInvalidEmail            ErrorResponseMessage = "INVALID_EMAIL"
	ErrorInvalidLoginCredentials ErrorResponseMessage = "INVALID_LOGIN_CREDENTIALS"
	ErrorTokenExpired            ErrorResponseMessage = "TOKEN_EXPIRED"
	ErrorInvalidIDToken          ErrorResponseMessage = "INVALID_ID_TOKEN"
	ErrorUserNotFound            ErrorResponseMessage = "USER_NOT_FOUND"
	ErrorWeakPassword            ErrorResponseMessage = "WEAK_PASSWORD"
)

// code strips the detail Firebase appends to some messages, as in "WEAK_PASSWORD : Password should be ...".
func (m ErrorResponseMessage) code() ErrorResponseMessage {
	if i := strings.Index(string(m), " "); i >= 0 {
		return m[:i]
	}
	return m
}

// upstreamError is a non-200 answer of the Firebase REST API
type upstreamError struct {
	status  int
	message ErrorResponseMessage
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("error response status %d: %s", e.status, e.message)
}

// call posts payload as JSON to url and decodes the response into out
func (s *FirebaseAuthHandler) call(ctx context.Context, url string, payload interface{}, out interface{}) error {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?key="+s.apiKey, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorResponse := &ErrorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return fmt.Errorf("failed to decode error response: %v", err)
		}
		return &upstreamError{
			status:  resp.StatusCode,
			message: errorResponse.Error.Message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}

// writeCallError maps a failed call to a response. known maps Firebase error codes to client messages.
func writeCallError(w http.ResponseWriter, err error, known map[ErrorResponseMessage]string, fallback string) {
	upstream, ok := err.(*upstreamError)
	if !ok {
		log.Error("%s: %v", fallback, err)
		http.Error(w, fallback, http.StatusInternalServerError)
		return
	}
	if msg, ok := known[upstream.message.code()]; ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	log.Error("unhandled error response message: %s", upstream.message)
	http.Error(w, fallback, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("error encoding response: %v", err)
		http.Error(w, "error encoding response", http.StatusInternalServerError)
	}
}

// RegisterRequestBody is the request body for the register endpoint
type RegisterRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// RegisterResponseBody is the response body for the register endpoint
type RegisterResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// HandleRegister handles requests to the register endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-create-email-password
func (s *FirebaseAuthHandler) HandleRegister() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.FormValue("email")
		password := r.FormValue("password")

		if email == "" {
			http.Error(w, "Missing email", http.StatusBadRequest)
			return
		}
		if password == "" {
			http.Error(w, "Missing password", http.StatusBadRequest)
			return
		}

		responsePayload := &RegisterResponseBody{}
		err := s.call(r.Context(), s.identityToolkitURL+"/accounts:signUp", &RegisterRequestBody{
			Email:             email,
			Password:          password,
			ReturnSecureToken: true,
		}, responsePayload)
		if err != nil {
			writeCallError(w, err, map[ErrorResponseMessage]string{
				ErrorInvalidEmail:        "Invalid email",
				ErrorWeakPassword:        "Password should be at least 6 characters",
				ErrorEmailExists:         "Email already exists",
				ErrorOperationNotAllowed: "Operation not allowed",
				ErrorTooManyAttempts:     "Too many attempts, try again later",
			}, "Failed to register")
			return
		}

		writeJSON(w, responsePayload)
	}
}

// LoginRequestBody is the request body for the login endpoint
type LoginRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// LoginResponseBody is the response body for the login endpoint
type LoginResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Registered   bool   `json:"registered"`
	DisplayName  string `json:"displayName"`
}

// HandleLogin handles requests to the login endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-email-password
func (s *FirebaseAuthHandler) HandleLogin() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.FormValue("email")
		password := r.FormValue("password")

		if email == "" {
			http.Error(w, "Missing email", http.StatusBadRequest)
			return
		}
		if password == "" {
			http.Error(w, "Missing password", http.StatusBadRequest)
			return
		}

		responsePayload := &LoginResponseBody{}
		err := s.call(r.Context(), s.identityToolkitURL+"/accounts:signInWithPassword", &LoginRequestBody{
			Email:             email,
			Password:          password,
			ReturnSecureToken: true,
		}, responsePayload)
		if err != nil {
			writeCallError(w, err, map[ErrorResponseMessage]string{
				ErrorInvalidEmail:            "Invalid email",
				ErrorInvalidLoginCredentials: "Invalid credentials",
				ErrorTooManyAttempts:         "Too many attempts, try again later",
			}, "Failed to login")
			return
		}

		writeJSON(w, responsePayload)
	}
}

// RefreshRequestBody is the request body for the refresh endpoint
type RefreshRequestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponseBody is the response body for the refresh endpoint
type RefreshResponseBody struct {
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

// HandleRefresh handles requests to the refresh endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-refresh-token
func (s *FirebaseAuthHandler) HandleRefresh() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		refreshToken := r.FormValue("refreshToken")

		if refreshToken == "" {
			http.Error(w, "Missing refresh token", http.StatusBadRequest)
			return
		}

		responsePayload := &RefreshResponseBody{}
		err := s.call(r.Context(), s.secureTokenURL+"/token", &RefreshRequestBody{
			GrantType:    "refresh_token",
			RefreshToken: refreshToken,
		}, responsePayload)
		if err != nil {
			writeCallError(w, err, map[ErrorResponseMessage]string{
				ErrorTokenExpired: "Token expired",
			}, "Failed to refresh")
			return
		}

		writeJSON(w, responsePayload)
	}
}

// DeleteRequestBody is the request body for the delete endpoint
type DeleteRequestBody struct {
	IDToken string `json:"idToken"`
}

// HandleDelete handles requests to the delete endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-delete-account
func (s *FirebaseAuthHandler) HandleDelete() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		idToken := r.FormValue("idToken")

		if idToken == "" {
			http.Error(w, "Missing ID token", http.StatusBadRequest)
			return
		}

		err := s.call(r.Context(), s.identityToolkitURL+"/accounts:delete", &DeleteRequestBody{
			IDToken: idToken,
		}, nil)
		if err != nil {
			writeCallError(w, err, map[ErrorResponseMessage]string{
				ErrorInvalidIDToken: "Invalid ID token",
				ErrorUserNotFound:   "User not found",
			}, "Failed to delete")
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// UpdateProfileRequestBody is the request body for the update profile endpoint
type UpdateProfileRequestBody struct {
	IDToken           string `json:"idToken"`
	DisplayName       string `json:"displayName"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// UpdateProfileResponseBody is the response body for the update profile endpoint
type UpdateProfileResponseBody struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// HandleUpdateProfile handles requests to the update profile endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-update-profile
func (s *FirebaseAuthHandler) HandleUpdateProfile() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		idToken := r.FormValue("idToken")
		displayName := strings.TrimSpace(r.FormValue("displayName"))

		if idToken == "" {
			http.Error(w, "Missing ID token", http.StatusBadRequest)
			return
		}
		if displayName == "" {
			http.Error(w, "Missing display name", http.StatusBadRequest)
			return
		}

		responsePayload := &UpdateProfileResponseBody{}
		err := s.call(r.Context(), s.identityToolkitURL+"/accounts:update", &UpdateProfileRequestBody{
			IDToken:           idToken,
			DisplayName:       displayName,
			ReturnSecureToken: true,
		}, responsePayload)
		if err != nil {
			writeCallError(w, err, map[ErrorResponseMessage]string{
				ErrorInvalidIDToken: "Invalid ID token",
				ErrorTokenExpired:   "Token expired",
			}, "Failed to update profile")
			return
		}

		writeJSON(w, responsePayload)
	}
}
