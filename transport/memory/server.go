// Package memory 在进程内模拟远端 ORM 服务
//
// 支持 search_read / search / search_count / read / create / write / unlink / fields_get，
// 过滤使用 domain.EvaluateWith，关系遍历依赖注册的模型元信息。
// 每次调用独立生效，与真实远端一样没有事务。
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"zenoo/domain"
	"zenoo/errors"
	"zenoo/model"
	"zenoo/query"
	"zenoo/transport"
)

// DefaultEndpoint 默认端点名
const DefaultEndpoint = "memory://zenoo"

type record = map[string]any

type injection struct {
	match     func(transport.Request) bool
	remaining int
	err       error
}

// Server 内存 ORM 服务，实现 transport.ITransport
type Server struct {
	endpoint string
	registry *model.Registry

	mu     sync.Mutex
	tables map[string]map[int64]record
	nextID map[string]int64
	calls  []transport.Request
	faults []*injection
}

// Option 可选配置
type Option func(*Server)

// WithRegistry 提供模型元信息：关系字段的存储与读取格式、关系遍历、fields_get
func WithRegistry(reg *model.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithEndpoint 设置端点名，熔断器按端点隔离
func WithEndpoint(endpoint string) Option {
	return func(s *Server) {
		s.endpoint = endpoint
	}
}

// New 创建内存服务
func New(opts ...Option) *Server {
	s := &Server{
		endpoint: DefaultEndpoint,
		tables:   make(map[string]map[int64]record),
		nextID:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Endpoint 实现 transport.ITransport
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Seed 直接写入记录，不记录调用；带 id 的记录保留原 id
func (s *Server) Seed(modelName string, rows ...map[string]any) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		vals := roundTrip(row)
		id, ok := query.ToInt64(vals[model.IdentityField])
		delete(vals, model.IdentityField)
		if !ok || id == 0 {
			id = s.allocID(modelName)
		} else if id > s.nextID[modelName] {
			s.nextID[modelName] = id
		}
		s.insert(modelName, id, vals)
		ids = append(ids, id)
	}
	return ids
}

// Get 返回记录的读取格式副本
func (s *Server) Get(modelName string, id int64) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[modelName][id]
	if !ok {
		return nil, false
	}
	return s.readRecord(modelName, id, rec, nil), true
}

// All 按 id 升序返回模型的全部记录
func (s *Server) All(modelName string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedIDs(modelName)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.readRecord(modelName, id, s.tables[modelName][id], nil))
	}
	return out
}

// Calls 已收到的调用
func (s *Server) Calls() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Request(nil), s.calls...)
}

// CallCount 指定方法的调用次数，method 为空表示全部
func (s *Server) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls 清空调用记录
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// FailNext 让接下来 n 次匹配的调用返回 err；match 为 nil 表示匹配全部
func (s *Server) FailNext(n int, match func(transport.Request) bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if match == nil {
		match = func(transport.Request) bool { return true }
	}
	s.faults = append(s.faults, &injection{match: match, remaining: n, err: err})
}

// FailMethod 便捷形式：指定模型与方法
func FailMethod(modelName, method string) func(transport.Request) bool {
	return func(r transport.Request) bool {
		return (modelName == "" || r.Model == modelName) && r.Method == method
	}
}

// Call 实现 transport.ITransport
func (s *Server) Call(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 经过一次 JSON 编解码，参数形态与真实远端一致
	wire, err := normalizeRequest(req)
	if err != nil {
		return nil, errors.NewValidationError("请求参数无法序列化: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if err := s.injected(wire); err != nil {
		return nil, err
	}

	result, err := s.dispatch(wire)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "序列化结果失败")
	}
	return data, nil
}

func (s *Server) injected(req transport.Request) error {
	for i, f := range s.faults {
		if f.remaining <= 0 || !f.match(req) {
			continue
		}
		f.remaining--
		if f.remaining == 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func (s *Server) dispatch(req transport.Request) (any, error) {
	switch req.Method {
	case transport.MethodSearchRead:
		ids, err := s.search(req)
		if err != nil {
			return nil, err
		}
		return s.readIDs(req.Model, ids, stringList(req.Kwargs["fields"])), nil
	case transport.MethodSearch:
		return s.search(req)
	case transport.MethodSearchCount:
		d, err := domainArg(req)
		if err != nil {
			return nil, err
		}
		ids, err := s.filter(req.Model, d)
		return len(ids), err
	case transport.MethodRead:
		ids := idsArg(req, 0)
		fields := stringList(req.Kwargs["fields"])
		if len(req.Args) > 1 {
			fields = stringList(req.Args[1])
		}
		for _, id := range ids {
			if _, ok := s.tables[req.Model][id]; !ok {
				return nil, missing(req.Model, id)
			}
		}
		return s.readIDs(req.Model, ids, fields), nil
	case transport.MethodCreate:
		return s.create(req)
	case transport.MethodWrite:
		return s.write(req)
	case transport.MethodUnlink:
		ids := idsArg(req, 0)
		for _, id := range ids {
			if _, ok := s.tables[req.Model][id]; !ok {
				return nil, missing(req.Model, id)
			}
		}
		for _, id := range ids {
			delete(s.tables[req.Model], id)
		}
		return true, nil
	case transport.MethodFieldsGet:
		return s.fieldsGet(req.Model)
	}
	return nil, errors.ClassifyFault(&errors.RemoteFault{
		Name:    "builtins.AttributeError",
		Message: fmt.Sprintf("type object %q has no attribute %q", req.Model, req.Method),
	})
}

func (s *Server) search(req transport.Request) ([]int64, error) {
	d, err := domainArg(req)
	if err != nil {
		return nil, err
	}
	ids, err := s.filter(req.Model, d)
	if err != nil {
		return nil, err
	}
	order, _ := req.Kwargs["order"].(string)
	if err := s.sortIDs(req.Model, ids, order); err != nil {
		return nil, err
	}

	offset := intArg(req.Kwargs["offset"])
	limit := intArg(req.Kwargs["limit"])
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Server) filter(modelName string, d domain.Domain) ([]int64, error) {
	var out []int64
	for _, id := range s.sortedIDs(modelName) {
		rec := s.tables[modelName][id]
		ok, err := domain.EvaluateWith(d, func(field string) (any, error) {
			return s.resolve(modelName, id, rec, field)
		})
		if err != nil {
			return nil, validationFault(err)
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// resolve 字段值（读取格式）；关系遍历返回沿途所有目标记录上的值
func (s *Server) resolve(modelName string, id int64, rec record, path string) (any, error) {
	head, rest, dotted := strings.Cut(path, ".")
	if !dotted {
		if head == model.IdentityField {
			return id, nil
		}
		return s.readValue(modelName, head, rec[head]), nil
	}

	target, err := s.registry.RelationTarget(modelName, head)
	if err != nil {
		return nil, err
	}
	var values []any
	for _, childID := range query.RelationIDs(rec[head]) {
		child, ok := s.tables[target][childID]
		if !ok {
			continue
		}
		v, err := s.resolve(target, childID, child, rest)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	switch len(values) {
	case 0:
		return false, nil
	case 1:
		return values[0], nil
	}
	return values, nil
}

func (s *Server) create(req transport.Request) (any, error) {
	if len(req.Args) == 0 {
		return nil, validationFault(errors.NewValidationError("create 缺少参数"))
	}
	switch v := req.Args[0].(type) {
	case map[string]any:
		return s.createOne(req.Model, v)
	case []any:
		ids := make([]int64, 0, len(v))
		for _, item := range v {
			vals, ok := item.(map[string]any)
			if !ok {
				return nil, validationFault(errors.NewValidationError("create 参数必须是字典或字典列表"))
			}
			id, err := s.createOne(req.Model, vals)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, validationFault(errors.NewValidationError("create 参数必须是字典或字典列表"))
}

func (s *Server) createOne(modelName string, vals map[string]any) (int64, error) {
	if err := s.checkRequired(modelName, vals); err != nil {
		return 0, err
	}
	id := s.allocID(modelName)
	s.insert(modelName, id, vals)
	return id, nil
}

func (s *Server) write(req transport.Request) (any, error) {
	ids := idsArg(req, 0)
	if len(req.Args) < 2 {
		return nil, validationFault(errors.NewValidationError("write 缺少参数"))
	}
	vals, ok := req.Args[1].(map[string]any)
	if !ok {
		return nil, validationFault(errors.NewValidationError("write 的值必须是字典"))
	}
	for _, id := range ids {
		if _, ok := s.tables[req.Model][id]; !ok {
			return nil, missing(req.Model, id)
		}
	}
	for _, id := range ids {
		rec := s.tables[req.Model][id]
		for field, v := range vals {
			if field == model.IdentityField {
				continue
			}
			rec[field] = s.storeValue(req.Model, field, rec[field], v)
		}
	}
	return true, nil
}

func (s *Server) insert(modelName string, id int64, vals map[string]any) {
	if s.tables[modelName] == nil {
		s.tables[modelName] = make(map[int64]record)
	}
	rec := make(record, len(vals))
	for field, v := range vals {
		if field == model.IdentityField {
			continue
		}
		rec[field] = s.storeValue(modelName, field, nil, v)
	}
	s.tables[modelName][id] = rec
}

func (s *Server) allocID(modelName string) int64 {
	s.nextID[modelName]++
	return s.nextID[modelName]
}

func (s *Server) checkRequired(modelName string, vals map[string]any) error {
	meta, ok := s.registry.Get(modelName)
	if !ok {
		return nil
	}
	for _, name := range meta.FieldNames() {
		f, _ := meta.Field(name)
		if !f.Required {
			continue
		}
		if v, present := vals[name]; !present || v == nil || v == false {
			return errors.ClassifyFault(&errors.RemoteFault{
				Name:    "odoo.exceptions.ValidationError",
				Message: fmt.Sprintf("%s: 字段 %s 必填", modelName, name),
			})
		}
	}
	return nil
}

func (s *Server) field(modelName, field string) (*model.FieldMeta, bool) {
	meta, ok := s.registry.Get(modelName)
	if !ok {
		return nil, false
	}
	return meta.Field(field)
}

// storeValue 写入格式 → 存储格式：many2one 存 id，x2many 存 id 列表并执行命令
func (s *Server) storeValue(modelName, field string, current, v any) any {
	f, ok := s.field(modelName, field)
	if !ok {
		return v
	}
	switch {
	case f.Type == model.TypeMany2one:
		ids := query.RelationIDs(v)
		if len(ids) == 0 {
			return false
		}
		return ids[0]
	case f.IsToMany():
		return applyCommands(query.RelationIDs(current), v)
	}
	return v
}

// applyCommands 支持 (6,0,ids) 替换、(4,id) 关联、(3,id) 解除、(5,) 清空，以及直接给出 id 列表
func applyCommands(current []int64, v any) []int64 {
	list, ok := v.([]any)
	if !ok {
		return current
	}
	ids := append([]int64{}, current...)
	for _, item := range list {
		cmd, isCmd := item.([]any)
		if !isCmd {
			return query.RelationIDs(list)
		}
		if len(cmd) == 0 {
			continue
		}
		code, _ := query.ToInt64(cmd[0])
		switch code {
		case 6:
			if len(cmd) == 3 {
				ids = query.RelationIDs(cmd[2])
			}
		case 4:
			if len(cmd) >= 2 {
				if id, ok := query.ToInt64(cmd[1]); ok && !containsID(ids, id) {
					ids = append(ids, id)
				}
			}
		case 3:
			if len(cmd) >= 2 {
				if id, ok := query.ToInt64(cmd[1]); ok {
					ids = removeID(ids, id)
				}
			}
		case 5:
			ids = []int64{}
		}
	}
	return ids
}

// readValue 存储格式 → 读取格式：many2one 为 [id, display_name]
func (s *Server) readValue(modelName, field string, v any) any {
	f, ok := s.field(modelName, field)
	if !ok {
		if v == nil {
			return false
		}
		return v
	}
	switch {
	case f.Type == model.TypeMany2one:
		id, ok := query.ToInt64(v)
		if !ok || id == 0 {
			return false
		}
		return []any{id, s.displayName(f.Relation, id)}
	case f.IsToMany():
		ids := query.RelationIDs(v)
		if ids == nil {
			ids = []int64{}
		}
		return ids
	}
	if v == nil {
		return false
	}
	return v
}

func (s *Server) displayName(modelName string, id int64) string {
	if rec, ok := s.tables[modelName][id]; ok {
		if name, ok := rec["name"].(string); ok {
			return name
		}
	}
	return fmt.Sprintf("%s,%d", modelName, id)
}

func (s *Server) readRecord(modelName string, id int64, rec record, fields []string) map[string]any {
	if len(fields) == 0 {
		fields = make([]string, 0, len(rec))
		for f := range rec {
			fields = append(fields, f)
		}
	}
	out := make(map[string]any, len(fields)+1)
	out[model.IdentityField] = id
	for _, f := range fields {
		if f == model.IdentityField {
			continue
		}
		if f == "display_name" {
			out[f] = s.displayName(modelName, id)
			continue
		}
		out[f] = s.readValue(modelName, f, rec[f])
	}
	return out
}

func (s *Server) readIDs(modelName string, ids []int64, fields []string) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.tables[modelName][id]
		if !ok {
			continue
		}
		out = append(out, s.readRecord(modelName, id, rec, fields))
	}
	return out
}

func (s *Server) fieldsGet(modelName string) (any, error) {
	meta, ok := s.registry.Get(modelName)
	if !ok {
		return nil, errors.ClassifyFault(&errors.RemoteFault{
			Name:    "builtins.KeyError",
			Message: modelName,
		})
	}
	out := make(map[string]map[string]any)
	for _, name := range meta.FieldNames() {
		f, _ := meta.Field(name)
		attrs := map[string]any{
			"type":     string(f.Type),
			"string":   f.Label,
			"readonly": f.Readonly,
			"required": f.Required,
			"store":    !f.Computed,
		}
		if f.Relation != "" {
			attrs["relation"] = f.Relation
		}
		out[name] = attrs
	}
	return out, nil
}

func (s *Server) sortedIDs(modelName string) []int64 {
	ids := make([]int64, 0, len(s.tables[modelName]))
	for id := range s.tables[modelName] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// sortIDs 按 "field asc, field2 desc" 排序，id 升序兜底
func (s *Server) sortIDs(modelName string, ids []int64, order string) error {
	type key struct {
		field string
		desc  bool
	}
	var keys []key
	for _, part := range strings.Split(order, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		k := key{field: fields[0]}
		if len(fields) > 1 {
			switch strings.ToLower(fields[1]) {
			case "desc":
				k.desc = true
			case "asc":
			default:
				return validationFault(errors.NewValidationError("非法排序 %q", part))
			}
		}
		keys = append(keys, k)
	}

	table := s.tables[modelName]
	value := func(id int64, field string) any {
		if field == model.IdentityField {
			return id
		}
		return table[id][field]
	}
	sort.SliceStable(ids, func(a, b int) bool {
		for _, k := range keys {
			c := compareValues(value(ids[a], k.field), value(ids[b], k.field))
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return ids[a] < ids[b]
	})
	return nil
}

// compareValues 空值最小，数值按大小，其他按字符串
func compareValues(a, b any) int {
	ae, be := emptyValue(a), emptyValue(b)
	switch {
	case ae && be:
		return 0
	case ae:
		return -1
	case be:
		return 1
	}
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func emptyValue(v any) bool {
	return v == nil || v == false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func normalizeRequest(req transport.Request) (transport.Request, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return req, err
	}
	var out transport.Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return req, err
	}
	return out, nil
}

func roundTrip(row map[string]any) map[string]any {
	data, err := json.Marshal(row)
	if err != nil {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	_ = dec.Decode(&out)
	return out
}

func domainArg(req transport.Request) (domain.Domain, error) {
	if len(req.Args) == 0 || req.Args[0] == nil {
		return domain.Domain{}, nil
	}
	items, ok := req.Args[0].([]any)
	if !ok {
		return nil, validationFault(errors.NewValidationError("domain 必须是列表"))
	}
	return domain.Domain(items), nil
}

func idsArg(req transport.Request, pos int) []int64 {
	if len(req.Args) <= pos {
		return nil
	}
	return query.RelationIDs(req.Args[pos])
}

func intArg(v any) int {
	n, _ := query.ToInt64(v)
	return int(n)
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func missing(modelName string, id int64) error {
	return errors.ClassifyFault(&errors.RemoteFault{
		Name:    "odoo.exceptions.MissingError",
		Message: fmt.Sprintf("记录 %s(%d) 不存在或已被删除", modelName, id),
	})
}

// validationFault 把本地求值错误包装成远端校验故障
func validationFault(err error) error {
	return errors.ClassifyFault(&errors.RemoteFault{
		Name:    "odoo.exceptions.ValidationError",
		Message: err.Error(),
	})
}

var _ transport.ITransport = (*Server)(nil)
