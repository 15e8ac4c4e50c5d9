// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/http1/resp"

	"llm-council/internal/council"
	"llm-council/pkg/errors"
)

// ContentTypeNDJSON 事件流的内容类型
const ContentTypeNDJSON = "application/x-ndjson"

// ndjsonSink 把阶段事件逐行写给客户端。
// 首个事件决定状态码：运行前即被拒绝时用对应错误码，否则 200，之后的错误只在流内出现。
// buffered 为 true 时先攒在内存，请求结束时一次写出。
type ndjsonSink struct {
	c        *app.RequestContext
	buffered bool
	started  bool
	status   int
	buf      bytes.Buffer
}

func newNDJSONSink(c *app.RequestContext, buffered bool) *ndjsonSink {
	return &ndjsonSink{c: c, buffered: buffered}
}

func (s *ndjsonSink) Emit(ctx context.Context, ev council.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if !s.started {
		s.started = true
		s.status = consts.StatusOK
		if ev.Type == council.EventError {
			s.status = errors.HTTPStatus(errors.New(errors.Kind(ev.Kind), ev.Reason))
		}
		if !s.buffered {
			s.c.SetStatusCode(s.status)
			s.c.SetContentType(ContentTypeNDJSON)
			s.c.Response.Header.Set("Cache-Control", "no-cache")
			s.c.Response.Header.Set("X-Run-ID", ev.RunID)
			s.c.Response.HijackWriter(resp.NewChunkedBodyWriter(&s.c.Response, s.c.GetWriter()))
		}
	}

	if s.buffered {
		s.buf.Write(line)
		return nil
	}
	if _, err := s.c.Write(line); err != nil {
		return err
	}
	return s.c.Flush()
}

// finish 缓冲模式下写出响应体
func (s *ndjsonSink) finish(fallback int) {
	if !s.buffered {
		return
	}
	status := s.status
	if !s.started {
		status = fallback
	}
	s.c.Data(status, ContentTypeNDJSON, s.buf.Bytes())
}
