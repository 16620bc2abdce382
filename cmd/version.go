package cmd

// Version is set at build time with ldflags:
//
//	go build -ldflags "-X github.com/alaotach/foxxy-ai/cmd.Version=1.2.0"
var Version = "0.1.0"
