// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *TaskStore) {
	t.Helper()
	store, err := NewTaskStore(t.TempDir())
	require.NoError(t, err)
	server, err := NewServer(store, nil)
	require.NoError(t, err)
	return server, store
}

func doGet(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doGet(t, server, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_ListTasks(t *testing.T) {
	server, store := newTestServer(t)
	task := NewTask([]string{"a.txt"}, TaskConfig{})
	require.NoError(t, store.Save(task))

	rec := doGet(t, server, "/v1/tasks")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []*Task `json:"tasks"`
		Count int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, task.TaskID, body.Tasks[0].TaskID)
}

func TestServer_GetTask(t *testing.T) {
	server, store := newTestServer(t)
	task := NewTask([]string{"a.txt"}, TaskConfig{ChunkSize: 500})
	task.Status = StatusProcessing
	require.NoError(t, store.Save(task))

	rec := doGet(t, server, "/v1/tasks/"+task.TaskID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 500, got.Config.ChunkSize)
}

func TestServer_GetTask_NotFound(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doGet(t, server, "/v1/tasks/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	server, store := newTestServer(t)

	done := NewTask([]string{"a.txt"}, TaskConfig{})
	done.Status = StatusCompleted
	done.Aggregates = Aggregates{FilesProcessed: 1, TotalPHIFound: 4, TypeCounts: map[string]int{"NAME": 4}}
	require.NoError(t, store.Save(done))

	failed := NewTask([]string{"b.txt"}, TaskConfig{})
	failed.Status = StatusFailed
	failed.Aggregates = Aggregates{FilesFailed: 1}
	require.NoError(t, store.Save(failed))

	rec := doGet(t, server, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TasksTotal int            `json:"tasks_total"`
		ByStatus   map[string]int `json:"by_status"`
		Totals     Aggregates     `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.TasksTotal)
	assert.Equal(t, 1, body.ByStatus["completed"])
	assert.Equal(t, 1, body.ByStatus["failed"])
	assert.Equal(t, 4, body.Totals.TotalPHIFound)
	assert.Equal(t, 1, body.Totals.FilesFailed)
	assert.Equal(t, 4, body.Totals.TypeCounts["NAME"])
}

func TestServer_Metrics(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doGet(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
