package main

//go:generate swag init -g cmd/radar/main.go -o docs

// @title           Source Radar API
// @version         0.1.0
// @description     Discovery patterns, relevance scoring, and collection job controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
