package stackdetect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDetectFlaskFromRequirementsAndEntryPoint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "flask==2.3.0\n")
	writeFile(t, dir, "app.py", "from flask import Flask\napp = Flask(__name__)\nif __name__ == \"__main__\":\n    app.run()\n")

	res := Detect(dir)
	assert.Equal(t, "python", res.Language)
	assert.Equal(t, "flask", res.Framework)
	assert.Equal(t, "web", res.Type)
	assert.Equal(t, 5000, res.Port)
	assert.True(t, res.Detected)
}

func TestDetectDockerfileExposeOverridesDefaultPort(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM python:3.11\nEXPOSE 9001\n")
	writeFile(t, dir, "requirements.txt", "fastapi\n")

	res := Detect(dir)
	assert.Equal(t, 9001, res.Port)
	assert.Equal(t, "fastapi", res.Framework)
}

func TestDetectExpressFromPackageJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"dependencies":{"express":"^4.0.0"},"scripts":{"start":"node server.js"}}`)
	writeFile(t, dir, "server.js", "const express = require('express')\n")

	res := Detect(dir)
	assert.Equal(t, "node", res.Language)
	assert.Equal(t, "express", res.Framework)
	assert.Equal(t, 3000, res.Port)
	assert.Equal(t, "npm start", res.StartCommand)
}

func TestDetectGoWithNoFrameworkIsUnknownType(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/foo\n")

	res := Detect(dir)
	assert.Equal(t, "go", res.Language)
	assert.Equal(t, "unknown", res.Type)
	assert.False(t, res.Detected)
}

func TestFindEntryPointSkipsNodeModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755))
	writeFile(t, filepath.Join(dir, "node_modules", "pkg"), "index.js", "should not be picked")
	writeFile(t, dir, "package.json", `{"dependencies":{}}`)

	writeFile(t, dir, "server.js", "console.log('root entry')")

	entry := findEntryPoint(dir, nodeEntryPoints)
	assert.Equal(t, filepath.Join(dir, "server.js"), entry)
}
