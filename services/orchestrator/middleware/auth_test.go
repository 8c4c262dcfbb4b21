// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestKeySource_Matches(t *testing.T) {
	t.Run("empty candidate never matches", func(t *testing.T) {
		s := KeySource{ConfigKey: "secret"}
		assert.False(t, s.Matches(""))
	})

	t.Run("config key takes precedence", func(t *testing.T) {
		s := KeySource{ConfigKey: "secret"}
		assert.True(t, s.Matches("secret"))
		assert.False(t, s.Matches("other"))
	})

	t.Run("no config key and no cache never matches", func(t *testing.T) {
		s := KeySource{}
		assert.False(t, s.Matches("anything"))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	// Arrange
	router := gin.New()
	router.Use(APIKeyAuth(KeySource{ConfigKey: "secret"}))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"caller_key": CallerKey(c)})
	})

	// Act: missing key
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuth_ValidKeyPasses(t *testing.T) {
	router := gin.New()
	router.Use(APIKeyAuth(KeySource{ConfigKey: "secret"}))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"caller_key": CallerKey(c)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-KEY", "secret")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_WrongKeyRejected(t *testing.T) {
	router := gin.New()
	router.Use(APIKeyAuth(KeySource{ConfigKey: "secret"}))
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-KEY", "wrong")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	// Arrange: one token per second, burst of one, so the second
	// immediate request in the same instant is rejected.
	rl := NewRateLimiter(1, 1)
	router := gin.New()
	router.Use(APIKeyAuth(KeySource{ConfigKey: "secret"}))
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })

	req := func() *http.Request {
		r := httptest.NewRequest("GET", "/test", nil)
		r.Header.Set("X-API-KEY", "secret")
		return r
	}

	// Act
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req())
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req())

	// Assert
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimiter_SeparateKeysHaveSeparateBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(apiKeyContextKey, c.GetHeader("X-API-KEY"))
		c.Next()
	})
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })

	w1 := httptest.NewRecorder()
	r1 := httptest.NewRequest("GET", "/test", nil)
	r1.Header.Set("X-API-KEY", "key-a")
	router.ServeHTTP(w1, r1)

	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest("GET", "/test", nil)
	r2.Header.Set("X-API-KEY", "key-b")
	router.ServeHTTP(w2, r2)

	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusOK, w2.Code)
}
