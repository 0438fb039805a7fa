package backend

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/entity"
	"github.com/relabs-tech/crudio/core/filter"
	"github.com/relabs-tech/crudio/core/logger"
	"github.com/relabs-tech/crudio/core/model"
	"github.com/relabs-tech/crudio/core/schema"
)

func (b *Backend) createResource(router *mux.Router, rc resourceConfiguration) {
	resource := rc.Resource
	nillog := logger.FromContext(nil)
	nillog.Debugln("create resource:", resource)
	if rc.Description != "" {
		nillog.Debugln("  description:", rc.Description)
	}

	m := b.lookupModel(rc)
	if m.Resource() != resource {
		panic(fmt.Sprintf("configuration of %s: model %s describes resource %s",
			resource, rc.Model, m.Resource()))
	}
	schemaName := rc.Schema
	if schemaName == "" {
		schemaName = m.This()
	}
	s, ok := b.schemas[schemaName]
	if !ok {
		// without a declared schema the model's default schema serves
		s = schema.ForModel(m)
	}

	if rc.SchemaID != "" && !b.jsonValidator.HasSchema(rc.SchemaID) {
		nillog.Errorf("ERROR: invalid configuration for resource %s, schema_id %s is unknown. Validation is deactivated for this resource",
			resource, rc.SchemaID)
	}

	enabled, err := rc.resolveMethods()
	if err != nil {
		panic(fmt.Sprintf("configuration of %s: %s", resource, err))
	}

	if rc.ForbiddenAsNotFound {
		b.Registry.MaskDenied(resource)
	}

	if b.updateSchema {
		if _, err := b.db.Exec(m.CreateTableQuery(b.db.Schema)); err != nil {
			nillog.WithError(err).Errorf("Error while updating schema for resource %s", resource)
			panic(fmt.Sprintf("invalid configuration updating schema: %v", err))
		}
	}

	// per-method schemas, resolved up front so broken references fail
	// at construction time
	responseSchema := func(mc *methodConfiguration) *schema.Schema {
		if mc.Schema != "" {
			return b.lookupSchema(resource, mc.Schema)
		}
		return s
	}
	var argsSchema *schema.Schema
	if mc, ok := enabled[MethodPatch]; ok && mc.ArgsSchema != "" {
		argsSchema = b.lookupSchema(resource, mc.ArgsSchema)
		for _, f := range argsSchema.Fields() {
			c, ok := m.Column(f.Name)
			if !ok {
				panic(fmt.Sprintf("configuration of %s: args schema %s declares field %s which is no column of the model",
					resource, mc.ArgsSchema, f.Name))
			}
			if !fieldCompatibleWithColumn(f, c) {
				panic(fmt.Sprintf("configuration of %s: args schema %s field %s has type %s, incompatible with column type %s",
					resource, mc.ArgsSchema, f.Name, f.Type, c.Type))
			}
		}
	}

	listSchema := s
	if mc, ok := enabled[MethodIndex]; ok {
		listSchema = responseSchema(mc)
	}
	filterSchema := filter.Derive(listSchema)

	resourcePageSize := rc.DefaultPageSize
	if resourcePageSize == 0 {
		resourcePageSize = b.defaultPageSize
	}

	this := m.This()
	primary := m.Primary().Name
	listRoute := ""
	itemRoute := ""
	for _, r := range strings.Split(resource, "/") {
		pattern := "{" + r + "_id}"
		if r == this && m.IDKind() == model.IDKindInteger {
			pattern = "{" + r + "_id:[0-9]+}"
		}
		listRoute = itemRoute + "/" + core.Plural(r)
		itemRoute = listRoute + "/" + pattern
	}
	nillog.Debugln("  handle collection routes:", listRoute, "GET,POST")
	nillog.Debugln("  handle item routes:", itemRoute, "GET,PATCH,DELETE")

	schemaDB := b.db.Schema
	columnNames := m.ColumnNames()
	quoted := make([]string, len(columnNames))
	for i, name := range columnNames {
		quoted[i] = `"` + name + `"`
	}
	readQueryWithTotal := fmt.Sprintf("SELECT %s, %s, %s, count(*) OVER() AS full_count FROM %s.\"%s\" ",
		strings.Join(quoted, ", "), model.ColumnCreatedAt, model.ColumnUpdatedAt, schemaDB, resource)
	countQuery := fmt.Sprintf("SELECT count(*) FROM %s.\"%s\" ", schemaDB, resource)

	// dumpRecord serializes a record through a schema; the identifiers
	// and timestamps are always part of the response
	dumpRecord := func(rec *entity.Record, out *schema.Schema) map[string]interface{} {
		object := rec.Object()
		response := out.Dump(object)
		response[primary] = object[primary]
		for _, parent := range m.Parents() {
			response[parent+"_id"] = object[parent+"_id"]
		}
		response[model.ColumnCreatedAt] = rec.CreatedAt().UTC().Format(time.RFC3339Nano)
		response[model.ColumnUpdatedAt] = rec.UpdatedAt().UTC().Format(time.RFC3339Nano)
		return response
	}

	list := func(w http.ResponseWriter, r *http.Request, out *schema.Schema) {
		rlog := logger.FromContext(r.Context())

		values, err := filterSchema.LoadQuery(r.URL.Query())
		if err != nil {
			if filter.IsPaginationError(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		page, pageSize := filter.Pagination(values, resourcePageSize)
		predicates, err := filter.Compile(values, m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		params := mux.Vars(r)
		sqlWhere := "WHERE true "
		var queryParameters []interface{}
		for _, parent := range m.Parents() {
			// "all" is the wildcard selector, it lists across all parents
			if params[parent+"_id"] == "all" {
				continue
			}
			queryParameters = append(queryParameters, params[parent+"_id"])
			sqlWhere += fmt.Sprintf("AND (\"%s_id\" = $%d) ", parent, len(queryParameters))
		}
		clause, clauseParameters := filter.SQLClause(predicates, len(queryParameters))
		sqlWhere += clause
		queryParameters = append(queryParameters, clauseParameters...)
		whereParameterCount := len(queryParameters)

		sqlQuery := readQueryWithTotal + sqlWhere +
			fmt.Sprintf("ORDER BY %s DESC,\"%s\" DESC LIMIT $%d OFFSET $%d;",
				model.ColumnCreatedAt, primary, whereParameterCount+1, whereParameterCount+2)
		queryParameters = append(queryParameters, pageSize, (page-1)*pageSize)

		rows, err := b.db.Query(sqlQuery, queryParameters...)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "22P02" {
				http.Error(w, "invalid uuid", http.StatusBadRequest)
				return
			}
			rlog.WithError(err).Errorf("Error 4721: cannot execute query `%s`", sqlQuery)
			http.Error(w, "Error 4721", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		response := []interface{}{}
		var totalCount int
		for rows.Next() {
			rec, err := entity.ScanRow(m, rows.Scan, &totalCount)
			if err != nil {
				rlog.WithError(err).Errorf("Error 4725: cannot scan values")
				http.Error(w, "Error 4725", http.StatusInternalServerError)
				return
			}
			response = append(response, dumpRecord(rec, out))
		}

		if page > 1 && totalCount == 0 {
			// beyond the last page the window function yields no rows,
			// the total count needs a separate query
			err := b.db.QueryRow(countQuery+sqlWhere, queryParameters[:whereParameterCount]...).Scan(&totalCount)
			if err != nil {
				rlog.WithError(err).Errorf("Error 4722: cannot execute count query")
				http.Error(w, "Error 4722", http.StatusInternalServerError)
				return
			}
		}

		jsonData, _ := json.MarshalWithOption(response, json.DisableHTMLEscape())

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Pagination-Limit", strconv.Itoa(pageSize))
		w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
		w.Header().Set("Pagination-Page-Count", strconv.Itoa(((totalCount-1)/pageSize)+1))
		w.Header().Set("Pagination-Current-Page", strconv.Itoa(page))

		etag := bytesPlusTotalCountToEtag(jsonData, totalCount)
		w.Header().Set("Etag", etag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write(jsonData)
	}

	create := func(w http.ResponseWriter, r *http.Request, in *schema.Schema) {
		rlog := logger.FromContext(r.Context())

		body, _ := io.ReadAll(r.Body)
		if rc.SchemaID != "" && b.jsonValidator.HasSchema(rc.SchemaID) {
			if err := b.jsonValidator.ValidateString(string(body), rc.SchemaID); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
		}
		var document map[string]interface{}
		if err := json.Unmarshal(body, &document); err != nil {
			http.Error(w, "invalid json data", http.StatusBadRequest)
			return
		}
		// documents round-trip: identifiers and timestamps from an
		// earlier response are not payload
		delete(document, model.ColumnCreatedAt)
		delete(document, model.ColumnUpdatedAt)
		var explicitID string
		if m.IDKind() == model.IDKindUUID {
			explicitID, _ = document[primary].(string)
			delete(document, primary)
		}
		for _, parent := range m.Parents() {
			delete(document, parent+"_id")
		}
		values, err := in.Load(document, schema.LoadOptions{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if explicitID != "" && explicitID != uuid.Nil.String() {
			id, err := uuid.Parse(explicitID)
			if err != nil {
				http.Error(w, "invalid uuid", http.StatusBadRequest)
				return
			}
			values[primary] = id
		}

		// the URL scope wins over anything in the body
		params := mux.Vars(r)
		for _, parent := range m.Parents() {
			values[parent+"_id"] = params[parent+"_id"]
		}

		rec := entity.NewRecord(m, values)
		session := b.Registry.NewSession(b.db)
		if err := session.Save(r.Context(), rec); err != nil {
			writeEntityError(w, rlog, err, "cannot create "+this)
			return
		}
		if err := session.Commit(); err != nil {
			rlog.WithError(err).Errorf("Error 4732: cannot commit create of %s", this)
			http.Error(w, "Error 4732", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(dumpRecord(rec, in), json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	readOne := func(w http.ResponseWriter, r *http.Request, out *schema.Schema) {
		rlog := logger.FromContext(r.Context())
		key := mux.Vars(r)[this+"_id"]

		session := b.Registry.NewSession(b.db)
		rec, err := session.Get(r.Context(), m, key)
		if err != nil {
			writeEntityError(w, rlog, err, "cannot read "+this)
			return
		}
		if rec == nil {
			http.Error(w, "no such "+this+": "+key, http.StatusNotFound)
			return
		}

		jsonData, _ := json.MarshalWithOption(dumpRecord(rec, out), json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		etag := bytesToEtag(jsonData)
		w.Header().Set("Etag", etag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write(jsonData)
	}

	patch := func(w http.ResponseWriter, r *http.Request, out *schema.Schema) {
		rlog := logger.FromContext(r.Context())
		key := mux.Vars(r)[this+"_id"]

		body, _ := io.ReadAll(r.Body)
		var document map[string]interface{}
		if err := json.Unmarshal(body, &document); err != nil {
			http.Error(w, "invalid json data", http.StatusBadRequest)
			return
		}
		delete(document, model.ColumnCreatedAt)
		delete(document, model.ColumnUpdatedAt)
		for _, parent := range m.Parents() {
			delete(document, parent+"_id")
		}
		if id, ok := document[primary]; ok {
			if fmt.Sprint(id) != key {
				http.Error(w, "identifier mismatch for "+this, http.StatusBadRequest)
				return
			}
			delete(document, primary)
		}
		var values map[string]interface{}
		var err error
		if argsSchema != nil {
			values, err = argsSchema.Load(document, schema.LoadOptions{})
		} else {
			values, err = s.Load(document, schema.LoadOptions{Partial: true})
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		session := b.Registry.NewSession(b.db)
		rec, err := session.Get(r.Context(), m, key)
		if err != nil {
			writeEntityError(w, rlog, err, "cannot update "+this)
			return
		}
		if rec == nil {
			http.Error(w, "no such "+this+": "+key, http.StatusNotFound)
			return
		}
		if err := rec.SetAll(values); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := session.Update(r.Context(), rec); err != nil {
			writeEntityError(w, rlog, err, "cannot update "+this)
			return
		}
		if err := session.Commit(); err != nil {
			rlog.WithError(err).Errorf("Error 4733: cannot commit update of %s", this)
			http.Error(w, "Error 4733", http.StatusInternalServerError)
			return
		}

		jsonData, _ := json.MarshalWithOption(dumpRecord(rec, out), json.DisableHTMLEscape())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	deleteOne := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		key := mux.Vars(r)[this+"_id"]

		rec := entity.NewRecord(m, map[string]interface{}{primary: key})
		session := b.Registry.NewSession(b.db)
		if err := session.Delete(r.Context(), rec); err != nil {
			writeEntityError(w, rlog, err, "cannot delete "+this)
			return
		}
		if err := session.Commit(); err != nil {
			rlog.WithError(err).Errorf("Error 4735: cannot commit delete of %s", this)
			http.Error(w, "Error 4735", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}

	for _, method := range methodNames(enabled) {
		mc := enabled[method]
		operation := methodOperation(method)
		operationID := mc.OperationID
		if operationID == "" {
			operationID = core.OperationID(operation, m.DisplayName())
		}
		if mc.AdminOnly {
			if b.gate == nil {
				panic(fmt.Sprintf("configuration of %s: %s is admin_only but the backend has no gate",
					resource, method))
			}
			b.gate.AdminOnly(operationID)
		}

		out := responseSchema(mc)
		switch method {
		case MethodIndex:
			router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
				list(w, r, out)
			}))).Methods(http.MethodOptions, http.MethodGet).Name(operationID)

		case MethodPost:
			router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
				create(w, r, out)
			}))).Methods(http.MethodOptions, http.MethodPost).Name(operationID)

		case MethodGet:
			router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
				readOne(w, r, out)
			}))).Methods(http.MethodOptions, http.MethodGet).Name(operationID)

		case MethodPatch:
			router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
				patch(w, r, out)
			}))).Methods(http.MethodOptions, http.MethodPatch).Name(operationID)

		case MethodDelete:
			router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
				deleteOne(w, r)
			}))).Methods(http.MethodOptions, http.MethodDelete).Name(operationID)
		}
	}
}

// writeEntityError translates persistence errors to HTTP statuses
func writeEntityError(w http.ResponseWriter, rlog *logrus.Entry, err error, context string) {
	if entity.IsForbidden(err) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if entity.IsNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if pqErr, ok := err.(*pq.Error); ok {
		// Invalid UUIDs are reported as "invalid_text_representation" which is Code 22P02
		if pqErr.Code == "22P02" {
			http.Error(w, "invalid uuid", http.StatusBadRequest)
			return
		}
		// Unique violations are reported as Code 23505
		if pqErr.Code == "23505" {
			http.Error(w, context+": conflict with existing object", http.StatusConflict)
			return
		}
	}
	rlog.WithError(err).Errorf("Error 4734: %s", context)
	http.Error(w, "Error 4734", http.StatusInternalServerError)
}

// fieldCompatibleWithColumn reports whether a schema field can be
// stored in a model column
func fieldCompatibleWithColumn(f schema.Field, c model.Column) bool {
	switch c.Type {
	case model.TypeUUID, model.TypeString:
		return f.Type == schema.FieldString
	case model.TypeInteger:
		return f.Type == schema.FieldInteger
	case model.TypeFloat:
		return f.Type == schema.FieldFloat
	case model.TypeDecimal:
		return f.Type == schema.FieldDecimal
	case model.TypeBoolean:
		return f.Type == schema.FieldBoolean
	case model.TypeDate:
		return f.Type == schema.FieldDate
	case model.TypeDateTime:
		return f.Type == schema.FieldDateTime
	case model.TypeEnum:
		return f.Type == schema.FieldEnum
	case model.TypeJSON:
		return f.Type == schema.FieldRaw || f.Type == schema.FieldNested || f.Type == schema.FieldList
	}
	return false
}
