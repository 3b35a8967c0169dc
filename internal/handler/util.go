package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/sources"
)

// GetUserID extracts the user ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// Cookie format: session_token=xxx; ...
	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "session_token=") {
				tokenString = strings.TrimPrefix(part, "session_token=")
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("invalid token claims")
}

// header is a case-insensitive header lookup.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, v any) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("marshal response: %w", err)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}

func errorResponse(status int, msg string) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(status, map[string]string{"error": msg})
}

func unauthorized() (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized, Body: "Unauthorized"}, nil
}

func decode(req events.APIGatewayProxyRequest, v any) error {
	if strings.TrimSpace(req.Body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(req.Body), v)
}

// providerStatus maps a cloud storage or source error to an HTTP status.
func providerStatus(err error) int {
	switch {
	case errors.Is(err, sources.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sources.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, sources.ErrReauthenticate):
		return http.StatusUnauthorized
	}
	switch adapter.Classify(err) {
	case adapter.KindAuth:
		return http.StatusUnauthorized
	case adapter.KindPermission:
		return http.StatusForbidden
	case adapter.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
