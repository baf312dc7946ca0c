// retrievalflow 命令行入口。
//
// 提供 demo（端到端跑一遍分块、缓存与检索管线）、version 和 help 命令。
package main
