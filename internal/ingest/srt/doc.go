// Package srt moves compressed audio over SRT in both directions:
// Server accepts publishers in listener mode, Caller pulls from remote
// listeners. Either way the received bytes land in a player session
// ring obtained from the ingest registry, which frames and paces them
// downstream.
package srt
