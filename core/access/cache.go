package access

import "sync"

// AuthorizationCache is an in-memory cache for authorizations. It is used
// by the jwt middleware to cache authorization objects for bearer tokens.
// The purpose of the cache is to reduce the number of database queries,
// without the cache the middleware would have to look up the authorization
// for every single request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from the in-process cache.
// Token should be the temporary token the authorization was derived from,
// not any of the ids. This function is go-routine safe.
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// Token should be the temporary token it was derived from, not any of the
// ids. This function is go-routine safe.
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}
