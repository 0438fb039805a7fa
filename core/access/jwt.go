package access

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudio/core/csql"
	"github.com/relabs-tech/crudio/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the jwt middleware
type JwtMiddlewareBuilder struct {
	// PublicKeys maps key ids ("kid" header) to PEM encoded RSA public keys
	PublicKeys map[string]string
	// Issuer is the accepted issuer for the token
	Issuer string
	// DB is the postgres database. Must have an "account" resource with a
	// searchable property "identity", which stores the authorization for
	// each identity.
	DB *csql.DB
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// token.
//
// JWT are accepted as "Authorization: Bearer" header or as "Crudio-JWT"
// cookie. An account identity is a combination of the token issuer with
// the user's email, separated by the pipe symbol '|'. Example:
//
//	"https://securetoken.example.com/app|test@example.com"
//
// The middleware only authenticates the actor and resolves their
// authorization; authorization decisions are made downstream by the gate
// and the entity layer. It returns http.StatusUnauthorized when a token is
// present but broken.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {

	wellKnownKeys := map[string]interface{}{}
	for kid, cert := range jmb.PublicKeys {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		if err != nil {
			logger.Default().WithError(err).Errorln("certificate error for kid", kid)
		} else {
			wellKnownKeys[kid] = key
		}
	}

	jwksLookup := func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		key, ok := wellKnownKeys[kid]
		if ok {
			return key, nil
		}
		logger.Default().Warningf("have %d well known keys, but not this one", len(wellKnownKeys))
		return nil, errors.New("cannot verify token")
	}

	authQuery := fmt.Sprintf("SELECT account_id, properties FROM %s.account WHERE identity=$1;", jmb.DB.Schema)
	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			identity := IdentityFromContext(r.Context())

			if auth != nil || len(identity) > 0 { // already authorized or at least authenticated?
				h.ServeHTTP(w, r)
				return
			}

			rlog := logger.FromContext(r.Context())

			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := struct {
				EMail string `json:"email"`
				jwt.RegisteredClaims
			}{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, jwksLookup)
			if err != nil || !token.Valid || claims.Issuer != jmb.Issuer {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// identity is a combination of issuer and email
			identity = claims.Issuer + "|" + claims.EMail

			// now that we have authenticated the requester, we store their identity in the context
			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, rlog = logger.ContextWithLoggerIdentity(ctx, identity)

			// look up authorization for the token. We do this by tokenString, and not
			// by identity, so the frontend can enforce a new database lookup with a new token.
			auth = authCache.Read(tokenString)
			if auth == nil {
				var accountID uuid.UUID
				var properties json.RawMessage
				err = jmb.DB.QueryRow(authQuery, identity).Scan(&accountID, &properties)
				if err != nil && err != csql.ErrNoRows {
					rlog.WithError(err).Errorf("Error 4723: cannot execute authorization query `%s`", authQuery)
					http.Error(w, "Error 4723", http.StatusInternalServerError)
					return
				}
				if err == nil {
					auth = &Authorization{Identity: identity}
					json.Unmarshal(properties, auth)
					if auth.Resources == nil {
						auth.Resources = map[string]uuid.UUID{}
					}
					auth.Resources["account_id"] = accountID
					authCache.Write(tokenString, auth)
				}
			}

			if auth != nil {
				ctx = ContextWithAuthorization(ctx, auth)
			}
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header or the
// Crudio-JWT cookie.
func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
			return bearer[7:]
		}
		return bearer
	}
	if cookie, _ := r.Cookie("Crudio-JWT"); cookie != nil {
		return cookie.Value
	}
	return ""
}
