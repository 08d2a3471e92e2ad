package api

import "net/http"

func (s *Server) handleReferenceProviders(w http.ResponseWriter, r *http.Request) {
	out, err := s.directory.Providers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleReferencePatients(w http.ResponseWriter, r *http.Request) {
	out, err := s.directory.Patients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleReferenceValidators(w http.ResponseWriter, r *http.Request) {
	out, err := s.directory.Validators(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, out)
}
