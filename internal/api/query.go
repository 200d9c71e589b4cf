package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"mailsweep/internal/model"
)

// queryFrom reads ?q=&max=&include_spam_trash= into a Query.
func queryFrom(c *gin.Context) (model.Query, error) {
	q := model.Query{Raw: c.Query("q")}
	if v := c.Query("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, &model.ConfigError{Field: "max", Reason: "must be a non-negative integer"}
		}
		q.MaxResults = n
	}
	if v := c.Query("include_spam_trash"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, &model.ConfigError{Field: "include_spam_trash", Reason: "must be a boolean"}
		}
		q.IncludeSpamTrash = b
	}
	return q, nil
}

// intParam reads a non-negative integer query parameter; absent is 0.
func intParam(c *gin.Context, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, &model.ConfigError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}
