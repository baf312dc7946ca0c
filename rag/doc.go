// Copyright 2025-2026 RetrievalFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现自适应检索管线的核心算法：分块路由、动态检索规模、
交叉编码重排序和反冗余多样化。

该包位于用户查询与向量检索后端之间：入库阶段根据文档分类决策选择
分块策略；查询阶段执行 过量检索 → 重排序 → 多样化 → 过滤 的四阶段
管线。向量检索本身、嵌入计算和 LLM 分类器都是外部协作者，通过接口
注入。

# 核心接口/类型

  - Chunker — 分块策略接口（封闭变体集合：Recursive / Tabular）
  - ChunkRouter — 按分类决策的类别/置信度选择分块策略
  - ClassificationDecision — 外部分类器产生的决策（类别 + 置信度）
  - DynamicStrategy — 按查询特征启发式决定检索数量
  - Diversifier — 按文档配额去冗余，保留 top-N 精度保证
  - CrossEncoderScorer — 外部交叉编码模型接口（批量打分）
  - BaselineRetriever — 外部基线向量检索接口
  - EnhancedChunkRetriever — 四阶段检索管线编排器

# 失败语义

缓存和重排序的失败永远不会传播给调用方：重排失败回退到基线排序，
熔断器在基线检索过慢时跳过重排。唯一向上传播的失败是基线检索本身
（阶段 1），因为没有它就无法产生任何结果。
*/
package rag
