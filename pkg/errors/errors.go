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

// Package errors 提供统一错误辅助与议会运行的错误分类，不依赖 internal
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
)

// Kind 错误分类；决定对客户端的可恢复语义与 HTTP 状态码
type Kind string

const (
	// KindConfiguration 议会图非法，任何模型调用之前被拒绝；客户端修正后可重新提交
	KindConfiguration Kind = "configuration_error"
	// KindAdmissionDenied 速率/花费限额拒绝；退避后可重试
	KindAdmissionDenied Kind = "admission_denied"
	// KindInjectionRejected 注入防护命中；对本次请求终止，并记录用于滥用监控
	KindInjectionRejected Kind = "injection_rejected"
	// KindAgentFailure 单个节点/评审者失败；本地恢复，不会单独导致运行中止
	KindAgentFailure Kind = "agent_failure"
	// KindStageFailure 必需阶段零存活；运行标记为 failed，部分结果仍返回
	KindStageFailure Kind = "stage_failure"
	// KindSynthesisUnavailable 主席综合失败；运行带排名完成但没有最终答案
	KindSynthesisUnavailable Kind = "synthesis_unavailable"
)

// Error 带分类的错误。Reason 面向客户端；Detail 仅用于审计日志，不得返回给对端
type Error struct {
	Kind   Kind
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建分类错误
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf 带格式的 New
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WithDetail 附加审计细节（不对外展示）
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithCause 附加底层错误
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// KindOf 返回错误链上第一个分类；未分类返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf 返回面向客户端的原因；未分类错误返回通用文案，避免泄露内部细节
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return "internal error"
}

// DetailOf 返回审计细节
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

// Is 判断 err 是否属于 kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus 分类到 HTTP 状态码的映射
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfiguration:
		return http.StatusBadRequest
	case KindInjectionRejected:
		return http.StatusUnprocessableEntity
	case KindAdmissionDenied:
		return http.StatusTooManyRequests
	case KindStageFailure, KindAgentFailure:
		return http.StatusBadGateway
	case KindSynthesisUnavailable:
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidArg) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
